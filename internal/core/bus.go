package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/audit"
	"github.com/bolcd/bolcd/internal/discovery"
)

// Stream names.
const (
	StreamEvents = "BOLCD_EVENTS"
	StreamGraphs = "BOLCD_GRAPHS"
	StreamAudit  = "BOLCD_AUDIT"
)

// EventBus wraps NATS JetStream for event ingestion, graph publication and
// the append-only audit stream.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	url    string
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks event bus performance counters.
type BusMetrics struct {
	mu              sync.Mutex `json:"-"`
	EventsPublished int64      `json:"events_published"`
	EventsFailed    int64      `json:"events_failed"`
	GraphsPublished int64      `json:"graphs_published"`
	AuditPublished  int64      `json:"audit_published"`
	MessagesAcked   int64      `json:"messages_acked"`
	MessagesNaked   int64      `json:"messages_naked"`
}

func (m *BusMetrics) add(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// NewEventBus creates a new EventBus. If cfg.Embedded is true, it starts an
// embedded NATS server.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		subs:    make([]*nats.Subscription, 0),
		metrics: &BusMetrics{},
		url:     cfg.URL,
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.url = ns.ClientURL()
		bus.logger.Info().Str("url", bus.url).Msg("embedded NATS server started")
	}

	nc, err := nats.Connect(bus.url,
		nats.Name("bolcd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		bus.shutdownServer()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	streams := []*nats.StreamConfig{
		{
			Name:      StreamEvents,
			Subjects:  []string{SubjectEvents + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 7,
			MaxBytes:  1024 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			// Only the latest graph per segment subject is retained.
			Name:              StreamGraphs,
			Subjects:          []string{SubjectGraphs + ".>"},
			Retention:         nats.LimitsPolicy,
			MaxMsgsPerSubject: 1,
			Storage:           nats.FileStorage,
			Discard:           nats.DiscardOld,
		},
		{
			Name:       StreamAudit,
			Subjects:   []string{SubjectAudit + ".>"},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			DenyDelete: true,
			DenyPurge:  true,
		},
	}
	for _, sc := range streams {
		if _, err := js.AddStream(sc); err != nil {
			// Stream may exist with a different config from a previous version.
			if _, updateErr := js.UpdateStream(sc); updateErr != nil {
				_ = bus.Close()
				return nil, fmt.Errorf("creating/updating stream %s: %w (original: %v)", sc.Name, updateErr, err)
			}
		}
	}

	bus.logger.Info().Str("url", bus.url).Msg("connected to NATS JetStream")
	return bus, nil
}

// URL is the address clients connect to.
func (b *EventBus) URL() string { return b.url }

// PublishEvent publishes a normalized event for ingestion.
func (b *EventBus) PublishEvent(ev discovery.Event) error {
	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	subject := EventSubject(ev)
	if _, err := b.js.Publish(subject, data); err != nil {
		b.metrics.add(&b.metrics.EventsFailed)
		return fmt.Errorf("publishing event to %s: %w", subject, err)
	}
	b.metrics.add(&b.metrics.EventsPublished)
	return nil
}

// PublishGraph publishes a reduced segment graph.
func (b *EventBus) PublishGraph(g *discovery.Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshaling graph: %w", err)
	}
	subject := GraphSubject(g.Segment)
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing graph to %s: %w", subject, err)
	}
	b.metrics.add(&b.metrics.GraphsPublished)
	b.logger.Debug().Str("subject", subject).Int("edges", len(g.Edges)).Msg("graph published")
	return nil
}

// PublishAudit appends an audit record to the audit stream.
func (b *EventBus) PublishAudit(rec audit.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	subject := SubjectAudit + "." + subjectToken(string(rec.Action))
	if _, err := b.js.Publish(subject, data, nats.MsgId(rec.ID)); err != nil {
		return fmt.Errorf("publishing audit record to %s: %w", subject, err)
	}
	b.metrics.add(&b.metrics.AuditPublished)
	return nil
}

// Subscribe creates a durable subscription to a subject pattern.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeEvents delivers every ingested event to handler. Malformed
// messages are terminated so they are not redelivered.
func (b *EventBus) SubscribeEvents(handler func(ev discovery.Event)) error {
	return b.Subscribe(SubjectEvents+".>", "bolcd-engine-events", func(msg *nats.Msg) {
		ev, err := UnmarshalEvent(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal event")
			_ = msg.Term()
			b.metrics.add(&b.metrics.MessagesNaked)
			return
		}
		handler(ev)
		_ = msg.Ack()
		b.metrics.add(&b.metrics.MessagesAcked)
	})
}

// LatestGraph fetches the last graph published for a segment.
func (b *EventBus) LatestGraph(segment string) (*discovery.Graph, error) {
	msg, err := b.js.GetLastMsg(StreamGraphs, GraphSubject(segment))
	if err != nil {
		return nil, fmt.Errorf("loading graph for %q: %w", segment, err)
	}
	var g discovery.Graph
	if err := json.Unmarshal(msg.Data, &g); err != nil {
		return nil, fmt.Errorf("decoding graph for %q: %w", segment, err)
	}
	return &g, nil
}

// Close shuts down the event bus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	b.shutdownServer()
	return nil
}

func (b *EventBus) shutdownServer() {
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.ns = nil
		b.logger.Info().Msg("embedded NATS server stopped")
	}
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus metrics.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"events_published": b.metrics.EventsPublished,
		"events_failed":    b.metrics.EventsFailed,
		"graphs_published": b.metrics.GraphsPublished,
		"audit_published":  b.metrics.AuditPublished,
		"messages_acked":   b.metrics.MessagesAcked,
		"messages_naked":   b.metrics.MessagesNaked,
	}
}

// BusAuditSink publishes audit records to the bus audit stream.
type BusAuditSink struct {
	bus *EventBus
}

// NewBusAuditSink wraps bus as an audit.Sink.
func NewBusAuditSink(bus *EventBus) *BusAuditSink { return &BusAuditSink{bus: bus} }

func (s *BusAuditSink) Record(_ context.Context, rec audit.Record) error {
	return s.bus.PublishAudit(rec)
}
