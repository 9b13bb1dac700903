package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ssd-technologies/nebulon/internal/registry"
	"github.com/ssd-technologies/nebulon/internal/registry/registrytest"
)

// ignoreDB skips the connection opener database/sql runs until the test
// database is closed in cleanup.
var ignoreDB = goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener")

func TestHubPublishSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := NewHub(zap.NewNop())
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish([]registry.Event{{Seq: 1, Type: registry.EventDeposited}, {Seq: 2, Type: registry.EventIdentityIssued}})
	for _, ch := range []<-chan registry.Event{a, b} {
		if e := <-ch; e.Seq != 1 {
			t.Errorf("first event seq = %d, want 1", e.Seq)
		}
		if e := <-ch; e.Seq != 2 {
			t.Errorf("second event seq = %d, want 2", e.Seq)
		}
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Error("canceled subscription still open")
	}
	if hub.Len() != 1 {
		t.Errorf("Len = %d, want 1", hub.Len())
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	slow, cancel := hub.Subscribe()
	defer cancel()

	events := make([]registry.Event, subscriberBuffer+1)
	for i := range events {
		events[i] = registry.Event{Seq: uint64(i + 1)}
	}
	hub.Publish(events)

	n := 0
	for range slow {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("received %d events before drop, want %d", n, subscriberBuffer)
	}
	if hub.Len() != 0 {
		t.Errorf("Len = %d, want 0", hub.Len())
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe()
	hub.Close()
	if _, ok := <-ch; ok {
		t.Error("subscription open after Close")
	}
	cancel()

	late, _ := hub.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after Close is open")
	}
	hub.Publish([]registry.Event{{Seq: 1}})
}

func dialEvents(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) registry.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil {
		t.Fatalf("message = %+v, want an event", msg)
	}
	return *msg.Event
}

func TestEventsWebSocketReplayAndLive(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreDB)

	env := newTestEnv(t, nil)
	_, addr := genKey(t)
	env.deposit(t, addr, registry.AssetNative, 7)

	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	defer env.srv.Close()

	conn := dialEvents(t, ts, "?after=0")
	defer conn.Close()

	if e := readEvent(t, conn); e.Type != registry.EventRegistryInitialized {
		t.Errorf("first replayed event = %s", e.Type)
	}
	replayed := readEvent(t, conn)
	if replayed.Type != registry.EventDeposited || replayed.Amount != 7 {
		t.Errorf("second replayed event = %+v", replayed)
	}

	if err := env.svc.Deposit(t.Context(), registrytest.Key(5), registry.AssetNative, 9); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	live := readEvent(t, conn)
	if live.Type != registry.EventDeposited || live.Amount != 9 || live.Seq <= replayed.Seq {
		t.Errorf("live event = %+v", live)
	}
}

func TestEventsWebSocketLiveOnly(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreDB)

	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	conn := dialEvents(t, ts, "")
	defer conn.Close()

	// Wait for the handler to subscribe before committing.
	deadline := time.Now().Add(5 * time.Second)
	for env.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := env.svc.Deposit(t.Context(), registrytest.Key(5), registry.AssetNative, 3); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if e := readEvent(t, conn); e.Type != registry.EventDeposited || e.Amount != 3 {
		t.Errorf("event = %+v", e)
	}

	// Closing the hub ends the stream with a close frame.
	env.srv.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after close = %v, want going away", err)
	}
}

func TestEventsWebSocketRejectsOrigin(t *testing.T) {
	env := newTestEnv(t, &Options{CORSOrigins: []string{"https://nebulon.example"}})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	defer env.srv.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial from disallowed origin succeeded")
	}
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
		}
	}
}
