package live

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_FanOut(t *testing.T) {
	hub := NewHub(4, nil)
	a, unsubA := hub.Subscribe("")
	defer unsubA()
	b, unsubB := hub.Subscribe("")
	defer unsubB()

	hub.Emit("project.week_advanced", map[string]any{"project_id": "p1", "current_week": 2})

	for _, ch := range []<-chan Event{a, b} {
		ev := receive(t, ch)
		if ev.Name != "project.week_advanced" || ev.ProjectID != "p1" {
			t.Errorf("unexpected event %+v", ev)
		}
		var data map[string]any
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data["current_week"] != float64(2) {
			t.Errorf("unexpected payload %v", data)
		}
	}
}

func TestHub_ProjectFilter(t *testing.T) {
	hub := NewHub(4, nil)
	only, unsub := hub.Subscribe("p2")
	defer unsub()

	hub.Emit("vote.cast", map[string]any{"project_id": "p1"})
	hub.Emit("vote.cast", map[string]any{"project_id": "p2"})

	ev := receive(t, only)
	if ev.ProjectID != "p2" {
		t.Fatalf("filtered subscriber got %q", ev.ProjectID)
	}
	select {
	case extra := <-only:
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(1, nil)
	_, unsub := hub.Subscribe("")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Emit("vote.cast", map[string]any{"project_id": "p1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(1, nil)
	ch, unsub := hub.Subscribe("")
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if hub.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Subscribers())
	}

	ch2, unsub2 := hub.Subscribe("")
	hub.Close()
	if _, ok := <-ch2; ok {
		t.Error("channel should be closed after hub close")
	}
	unsub2()

	ch3, _ := hub.Subscribe("")
	if _, ok := <-ch3; ok {
		t.Error("subscribing to a closed hub should return a closed channel")
	}
	hub.Emit("ignored", nil)
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(4, nil)
	srv := httptest.NewServer(Handler(hub, time.Hour))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?project=p1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// Wait for the handler to subscribe before emitting.
	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Emit("project.completed", map[string]any{"project_id": "p1"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v (got %v)", err, lines)
		}
		lines = append(lines, strings.TrimRight(line, "\n"))
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}

	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "event: project.completed") {
		t.Errorf("missing event line in %q", joined)
	}
	if !strings.Contains(joined, `data: {"project_id":"p1"}`) {
		t.Errorf("missing data line in %q", joined)
	}
}
