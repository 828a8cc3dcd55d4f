package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"

	"github.com/wsn-testbed/dca-analyzer/internal/metrics"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// MQTTConfig connects the live observation source to the testbed broker.
// Topic is a filter like "wsn/+/status"; the node ID is taken from the
// wildcard segment of each incoming topic.
type MQTTConfig struct {
	Broker   string // host:port
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Buffer   int // incoming observation queue depth
}

// statusPayload is the wire format published by the sensor nodes. Readings
// and indicators arrive fixed16-encoded; the node has no RTC, so the arrival
// time at the broker serves as the observation timestamp.
type statusPayload struct {
	SNTime  int64             `json:"sntime"`
	Reading uint16            `json:"reading"`
	Chi     map[string]uint16 `json:"chi"`
}

// MQTTSource subscribes to node status updates and hands them to the engine
// in arrival order through a bounded queue. When the queue is full the
// newest update is dropped and counted; the engine's view stays time-ordered
// either way.
type MQTTSource struct {
	client *paho.Client
	conn   net.Conn
	log    *zap.Logger
	queue  chan *models.Observation
	now    func() time.Time

	mu       sync.Mutex
	previous map[string]float64
	closed   bool
}

func NewMQTTSource(ctx context.Context, cfg MQTTConfig, log *zap.Logger) (*MQTTSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("mqtt source: dial %s: %w", cfg.Broker, err)
	}

	s := &MQTTSource{
		conn:     conn,
		log:      log,
		queue:    make(chan *models.Observation, cfg.Buffer),
		now:      time.Now,
		previous: make(map[string]float64),
	}

	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pub paho.PublishReceived) (bool, error) {
				s.handle(pub.Packet.Topic, pub.Packet.Payload)
				return true, nil
			},
		},
	})

	connect := &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  30,
		CleanStart: true,
	}
	if cfg.Username != "" {
		connect.UsernameFlag = true
		connect.Username = cfg.Username
	}
	if cfg.Password != "" {
		connect.PasswordFlag = true
		connect.Password = []byte(cfg.Password)
	}
	if _, err := s.client.Connect(ctx, connect); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt source: connect: %w", err)
	}

	_, err = s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic: cfg.Topic,
			QoS:   cfg.QoS,
		}},
	})
	if err != nil {
		_ = s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, fmt.Errorf("mqtt source: subscribe %q: %w", cfg.Topic, err)
	}

	log.Info("mqtt source subscribed",
		zap.String("broker", cfg.Broker),
		zap.String("topic", cfg.Topic),
		zap.Uint8("qos", cfg.QoS))
	return s, nil
}

// handle decodes one incoming publish. Undecodable payloads are dropped
// here; semantically malformed observations (missing indicators and so on)
// still flow through so the engine can count them.
func (s *MQTTSource) handle(topic string, payload []byte) {
	node, ok := nodeFromTopic(topic)
	if !ok {
		metrics.MQTTMessagesTotal.WithLabelValues("malformed").Inc()
		s.log.Warn("mqtt message on unexpected topic", zap.String("topic", topic))
		return
	}

	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		metrics.MQTTMessagesTotal.WithLabelValues("malformed").Inc()
		s.log.Warn("undecodable mqtt payload", zap.String("node_id", node), zap.Error(err))
		return
	}

	obs := s.toObservation(node, &p)
	select {
	case s.queue <- obs:
		metrics.MQTTMessagesTotal.WithLabelValues("ok").Inc()
	default:
		metrics.MQTTMessagesTotal.WithLabelValues("dropped").Inc()
		s.log.Warn("observation queue full, dropping update", zap.String("node_id", node))
	}
}

func (s *MQTTSource) toObservation(node string, p *statusPayload) *models.Observation {
	reading := Fixed16ToFloat(p.Reading)

	s.mu.Lock()
	prev, seen := s.previous[node]
	if !seen {
		prev = reading
	}
	s.previous[node] = reading
	s.mu.Unlock()

	indicators := make(models.FaultIndicators, len(models.IndicatorNames))
	for _, name := range models.IndicatorNames {
		raw, ok := p.Chi[name]
		if !ok {
			indicators[name] = math.NaN() // extractor rejects the observation
			continue
		}
		indicators[name] = Fixed16ToFloat(raw)
	}

	return &models.Observation{
		NodeID:          node,
		Timestamp:       s.now().UTC(),
		SeqNo:           p.SNTime,
		Reading:         reading,
		PreviousReading: prev,
		ResetSource:     indicators["rst"] >= 1.0,
		Indicators:      indicators,
	}
}

// nodeFromTopic extracts the node ID from a wsn/<node>/status topic.
func nodeFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Next blocks until an observation arrives or the context is cancelled. A
// live source never reports end-of-stream; stopping a run is the caller's
// context cancellation.
func (s *MQTTSource) Next(ctx context.Context) (*models.Observation, error) {
	select {
	case obs := <-s.queue:
		return obs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MQTTSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	_ = s.conn.Close()
	return err
}
