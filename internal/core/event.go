package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bolcd/bolcd/internal/discovery"
)

// Severity represents the severity level of an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity accepts any casing of the severity names. Unknown strings
// map to INFO.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// Subject prefixes on the bus.
const (
	SubjectEvents = "bolcd.events"
	SubjectGraphs = "bolcd.graphs"
	SubjectAudit  = "bolcd.audit"
)

// subjectToken makes s safe to use as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// EventSubject is the subject an event is published on.
func EventSubject(ev discovery.Event) string {
	return SubjectEvents + "." + subjectToken(ev.Source)
}

// GraphSubject is the subject a segment graph is published on.
func GraphSubject(segment string) string {
	return SubjectGraphs + "." + subjectToken(segment)
}

// MarshalEvent serializes an event to its flat JSON wire form.
func MarshalEvent(ev discovery.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// UnmarshalEvent parses a flat JSON event.
func UnmarshalEvent(data []byte) (discovery.Event, error) {
	var ev discovery.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return discovery.Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}
