package source

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

const mochiAddr = "localhost:18883"

func startBroker(t *testing.T) *mochi.Server {
	t.Helper()
	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: mochiAddr,
	})
	require.NoError(t, server.AddListener(tcp))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })
	return server
}

func newTestMQTTSource(t *testing.T) *MQTTSource {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewMQTTSource(ctx, MQTTConfig{
		Broker:   mochiAddr,
		Topic:    "wsn/+/status",
		ClientID: "dca-test",
		QoS:      1,
		Buffer:   16,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func publishStatus(t *testing.T, server *mochi.Server, node string, p statusPayload) {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	topic := fmt.Sprintf("wsn/%s/status", node)
	require.NoError(t, server.Publish(topic, payload, false, 1))
}

func nextObservation(t *testing.T, s *MQTTSource) *models.Observation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs, err := s.Next(ctx)
	require.NoError(t, err)
	return obs
}

func fullChi(rst uint16) map[string]uint16 {
	chi := make(map[string]uint16, len(models.IndicatorNames))
	for _, name := range models.IndicatorNames {
		chi[name] = 0
	}
	chi["rst"] = rst
	return chi
}

func TestMQTTSourceDeliversObservations(t *testing.T) {
	server := startBroker(t)
	s := newTestMQTTSource(t)

	publishStatus(t, server, "11", statusPayload{
		SNTime:  1,
		Reading: FloatToFixed16(22.5),
		Chi:     fullChi(0),
	})

	obs := nextObservation(t, s)
	require.Equal(t, "11", obs.NodeID)
	require.Equal(t, int64(1), obs.SeqNo)
	require.Equal(t, 22.5, obs.Reading)
	require.Equal(t, 22.5, obs.PreviousReading) // first update reuses the reading
	require.False(t, obs.ResetSource)
	require.Len(t, obs.Indicators, len(models.IndicatorNames))
	require.False(t, obs.Timestamp.IsZero())
}

func TestMQTTSourceTracksPreviousPerNode(t *testing.T) {
	server := startBroker(t)
	s := newTestMQTTSource(t)

	publishStatus(t, server, "11", statusPayload{SNTime: 1, Reading: FloatToFixed16(20.0), Chi: fullChi(0)})
	publishStatus(t, server, "12", statusPayload{SNTime: 1, Reading: FloatToFixed16(18.0), Chi: fullChi(0)})
	publishStatus(t, server, "11", statusPayload{SNTime: 2, Reading: FloatToFixed16(21.0), Chi: fullChi(0)})

	first := nextObservation(t, s)
	second := nextObservation(t, s)
	third := nextObservation(t, s)

	byNode := map[string][]*models.Observation{}
	for _, obs := range []*models.Observation{first, second, third} {
		byNode[obs.NodeID] = append(byNode[obs.NodeID], obs)
	}
	require.Len(t, byNode["11"], 2)
	require.Len(t, byNode["12"], 1)

	// Node 11's second update carries its first reading as previous; node
	// 12's interleaved update does not bleed in.
	require.Equal(t, 20.0, byNode["11"][1].PreviousReading)
	require.Equal(t, 21.0, byNode["11"][1].Reading)
	require.Equal(t, 18.0, byNode["12"][0].PreviousReading)
}

func TestMQTTSourceResetFlag(t *testing.T) {
	server := startBroker(t)
	s := newTestMQTTSource(t)

	publishStatus(t, server, "11", statusPayload{SNTime: 1, Reading: FloatToFixed16(20.0), Chi: fullChi(FloatToFixed16(1.0))})

	obs := nextObservation(t, s)
	require.True(t, obs.ResetSource)
	require.Equal(t, 1.0, obs.Indicators["rst"])
}

func TestMQTTSourceDropsUndecodablePayloads(t *testing.T) {
	server := startBroker(t)
	s := newTestMQTTSource(t)

	require.NoError(t, server.Publish("wsn/11/status", []byte("not json"), false, 1))
	publishStatus(t, server, "12", statusPayload{SNTime: 1, Reading: FloatToFixed16(18.0), Chi: fullChi(0)})

	// Only the valid update comes through.
	obs := nextObservation(t, s)
	require.Equal(t, "12", obs.NodeID)
}

func TestNodeFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		node  string
		ok    bool
	}{
		{"wsn/11/status", "11", true},
		{"wsn//status", "", false},
		{"wsn/11", "", false},
		{"wsn/11/status/extra", "", false},
	}
	for _, tc := range cases {
		node, ok := nodeFromTopic(tc.topic)
		if node != tc.node || ok != tc.ok {
			t.Errorf("nodeFromTopic(%q) = (%q, %v), want (%q, %v)", tc.topic, node, ok, tc.node, tc.ok)
		}
	}
}
