package ingest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/core"
	"github.com/bolcd/bolcd/internal/discovery"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []discovery.Event
}

func (p *fakePublisher) PublishEvent(ev discovery.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *fakePublisher) first() discovery.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[0]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestListener_TCP(t *testing.T) {
	pub := &fakePublisher{}
	l := NewListener(core.ListenConfig{Host: "127.0.0.1", Port: 0, Protocol: "tcp"}, pub, zerolog.Nop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer l.Stop()

	conn, err := net.Dial("tcp", l.TCPAddr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	fmt.Fprintln(conn, `{"entity_id": "h1", "A": 1}`)
	fmt.Fprintln(conn, `not json`)
	fmt.Fprintln(conn, `{"entity_id": "h2", "source": "edr", "A": 0}`)
	conn.Close()

	waitFor(t, func() bool {
		_, rejected := l.Stats()
		return pub.count() == 2 && rejected == 1
	})

	ev := pub.first()
	if ev.Source != "127.0.0.1" {
		t.Errorf("Source = %q, want remote address", ev.Source)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp should default to receive time")
	}
}

func TestListener_UDP(t *testing.T) {
	pub := &fakePublisher{}
	l := NewListener(core.ListenConfig{Host: "127.0.0.1", Port: 0, Protocol: "udp"}, pub, zerolog.Nop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer l.Stop()

	if l.TCPAddr() != nil {
		t.Error("TCP should not be bound for udp protocol")
	}
	conn, err := net.Dial("udp", l.UDPAddr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("{\"A\": 1}\n{\"A\": 0}\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	waitFor(t, func() bool { return pub.count() == 2 })
	accepted, _ := l.Stats()
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}
}
