package ingest

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/core"
	"github.com/bolcd/bolcd/internal/discovery"
)

// Publisher accepts decoded events. *core.EventBus satisfies it.
type Publisher interface {
	PublishEvent(ev discovery.Event) error
}

// Listener accepts newline-delimited JSON events over UDP and/or TCP and
// publishes them to the event bus. Each UDP datagram may carry several
// lines.
type Listener struct {
	cfg     core.ListenConfig
	pub     Publisher
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	udpConn *net.UDPConn
	tcpLn   net.Listener

	accepted atomic.Int64
	rejected atomic.Int64
}

// NewListener creates a new event listener.
func NewListener(cfg core.ListenConfig, pub Publisher, logger zerolog.Logger) *Listener {
	return &Listener{
		cfg:    cfg,
		pub:    pub,
		logger: logger.With().Str("component", "event_listener").Logger(),
	}
}

// Start begins listening.
func (l *Listener) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	proto := strings.ToLower(l.cfg.Protocol)
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)

	if proto == "udp" || proto == "both" {
		if err := l.startUDP(addr); err != nil {
			return fmt.Errorf("starting UDP listener: %w", err)
		}
	}

	if proto == "tcp" || proto == "both" {
		if err := l.startTCP(addr); err != nil {
			_ = l.Stop()
			return fmt.Errorf("starting TCP listener: %w", err)
		}
	}

	l.logger.Info().Str("addr", addr).Str("protocol", proto).Msg("event listener started")
	return nil
}

// Stop shuts down the listener.
func (l *Listener) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.udpConn != nil {
		l.udpConn.Close()
	}
	if l.tcpLn != nil {
		l.tcpLn.Close()
	}
	l.logger.Info().Msg("event listener stopped")
	return nil
}

// TCPAddr is the bound TCP address, or nil.
func (l *Listener) TCPAddr() net.Addr {
	if l.tcpLn == nil {
		return nil
	}
	return l.tcpLn.Addr()
}

// UDPAddr is the bound UDP address, or nil.
func (l *Listener) UDPAddr() net.Addr {
	if l.udpConn == nil {
		return nil
	}
	return l.udpConn.LocalAddr()
}

// Stats returns accepted and rejected line counts.
func (l *Listener) Stats() (accepted, rejected int64) {
	return l.accepted.Load(), l.rejected.Load()
}

func (l *Listener) startUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on UDP %s: %w", addr, err)
	}
	l.udpConn = conn

	go func() {
		buf := make([]byte, 65536)
		for {
			select {
			case <-l.ctx.Done():
				return
			default:
			}

			_ = l.udpConn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, remoteAddr, err := l.udpConn.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if l.ctx.Err() != nil {
					return
				}
				l.logger.Error().Err(err).Msg("UDP read error")
				continue
			}

			remote := ""
			if remoteAddr != nil {
				remote = remoteAddr.IP.String()
			}
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				l.processLine(line, remote)
			}
		}
	}()

	l.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("UDP listener started")
	return nil
}

func (l *Listener) startTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on TCP %s: %w", addr, err)
	}
	l.tcpLn = ln

	go func() {
		for {
			select {
			case <-l.ctx.Done():
				return
			default:
			}

			conn, err := ln.Accept()
			if err != nil {
				if l.ctx.Err() != nil {
					return
				}
				l.logger.Error().Err(err).Msg("TCP accept error")
				continue
			}

			go l.handleTCPConn(conn)
		}
	}()

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	return nil
}

func (l *Listener) handleTCPConn(conn net.Conn) {
	defer conn.Close()

	remote := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remote = addr.IP.String()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 65536), maxLineSize)

	for scanner.Scan() {
		select {
		case <-l.ctx.Done():
			return
		default:
		}
		l.processLine(scanner.Text(), remote)
	}

	if err := scanner.Err(); err != nil && l.ctx.Err() == nil {
		l.logger.Debug().Err(err).Str("remote", remote).Msg("TCP connection read error")
	}
}

// processLine decodes one JSON event and publishes it. Events without a
// source are attributed to the remote address.
func (l *Listener) processLine(raw, remote string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	ev, err := decodeLine([]byte(raw))
	if err != nil {
		l.rejected.Add(1)
		l.logger.Debug().Err(err).Str("raw", truncate(raw, 200)).Msg("malformed event line")
		return
	}
	if ev.Source == "" {
		ev.Source = remote
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := l.pub.PublishEvent(ev); err != nil {
		l.rejected.Add(1)
		l.logger.Error().Err(err).Msg("failed to publish event")
		return
	}
	l.accepted.Add(1)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
