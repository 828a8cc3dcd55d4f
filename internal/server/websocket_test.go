package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsn-testbed/dca-analyzer/internal/db"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

func dialWS(t *testing.T, ts *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s, err := NewServer(Config{AllowedOrigins: []string{"*"}}, store, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.hub.run()
	t.Cleanup(s.cancel)

	ts := httptest.NewServer(s.handler())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "")

	// Give the hub a moment to register the client before publishing.
	time.Sleep(50 * time.Millisecond)
	s.Hub().Publish([]*models.ClassificationRecord{
		{RunID: "r1", NodeID: "11", Timestamp: time.Now().UTC(), Iteration: 10, MCAV: 0.8, Mature: true, Context: models.ContextAnomalous},
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Type            string                         `json:"type"`
		Classifications []models.ClassificationRecord `json:"classifications"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "classifications" {
		t.Errorf("type = %q", msg.Type)
	}
	if len(msg.Classifications) != 1 || msg.Classifications[0].NodeID != "11" {
		t.Errorf("payload = %+v", msg.Classifications)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ui.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Error("request without Origin should be allowed")
	}

	req.Header.Set("Origin", "https://ui.example.com")
	if !check(req) {
		t.Error("allow-listed origin rejected")
	}

	req.Header.Set("Origin", "https://evil.example.com")
	if check(req) {
		t.Error("unknown origin accepted")
	}

	wildcard := originChecker([]string{"*"})
	req.Header.Set("Origin", "https://anything.example.com")
	if !wildcard(req) {
		t.Error("wildcard should allow any origin")
	}
}
