package core

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/audit"
	"github.com/bolcd/bolcd/internal/discovery"
)

// ReloadConfig reloads the configuration from disk and swaps the engine's
// snapshot. The next recompute uses the new parameters; a run in flight
// keeps the old ones. An invalid file leaves the current snapshot in place.
// Returns a list of what changed.
//
// Hot-reloadable settings:
//   - discovery thresholds, epsilon, fdr_q, null_rate, segmentation, candidates
//   - condense policy
//   - logging level
//   - CORS origins and rate limit
//
// NOT hot-reloadable (require restart):
//   - bus config (NATS URL, port, data dir)
//   - server host/port
//   - audit sink paths
func ReloadConfig(engine *Engine, configPath string, logger zerolog.Logger) ([]string, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no config path set, cannot reload")
	}

	newCfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	old := engine.Config()
	newCfg.Bus = old.Bus
	newCfg.Server.Host = old.Server.Host
	newCfg.Server.Port = old.Server.Port
	newCfg.Audit = old.Audit

	changes, records := diffConfig(old, newCfg, time.Now())

	if newCfg.LogLevel() != old.LogLevel() {
		zerolog.SetGlobalLevel(parseLevel(newCfg.LogLevel()))
	}

	engine.SetConfig(newCfg)

	sink := engine.AuditSink()
	for _, rec := range records {
		if err := sink.Record(context.Background(), rec); err != nil {
			logger.Error().Err(err).Str("action", string(rec.Action)).Msg("failed to write audit record")
		}
	}

	if len(changes) == 0 {
		changes = append(changes, "no changes detected")
	}

	logger.Info().Strs("changes", changes).Msg("configuration reloaded")
	return changes, nil
}

// diffConfig lists human readable changes and the threshold_changed audit
// records for them.
func diffConfig(old, cur *Config, now time.Time) ([]string, []audit.Record) {
	var changes []string
	var records []audit.Record
	reloadID := "reload-" + uuid.New().String()

	param := func(name string, before, after interface{}) {
		changes = append(changes, fmt.Sprintf("discovery.%s → %v", name, after))
		records = append(records, audit.NewRecord(now, reloadID, "", audit.ActionThresholdChanged, "reload",
			map[string]interface{}{"param": name, "old": before, "new": after}))
	}

	od, nd := old.Discovery, cur.Discovery
	if od.Epsilon != nd.Epsilon {
		param("epsilon", od.Epsilon, nd.Epsilon)
	}
	if od.FDRQ != nd.FDRQ {
		param("fdr_q", od.FDRQ, nd.FDRQ)
	}
	if od.NullRate != nd.NullRate {
		param("null_rate", od.NullRate, nd.NullRate)
	}

	for _, name := range unionKeys(od.Thresholds, nd.Thresholds) {
		before, hadBefore := od.Thresholds[name]
		after, hasAfter := nd.Thresholds[name]
		diff := map[string]interface{}{"signal": name}
		switch {
		case hadBefore && !hasAfter:
			diff["old"] = thresholdDiff(before)
			changes = append(changes, "signal "+name+" removed")
		case !hadBefore && hasAfter:
			diff["new"] = thresholdDiff(after)
			changes = append(changes, "signal "+name+" added")
		case before != after:
			diff["old"] = thresholdDiff(before)
			diff["new"] = thresholdDiff(after)
			changes = append(changes, "signal "+name+" threshold changed")
		default:
			continue
		}
		records = append(records, audit.NewRecord(now, reloadID, "", audit.ActionThresholdChanged, "reload", diff))
	}

	if !reflect.DeepEqual(od.SegmentKeys, nd.SegmentKeys) ||
		od.SegmentWindow != nd.SegmentWindow ||
		!reflect.DeepEqual(od.SegmentAllowedValues, nd.SegmentAllowedValues) {
		changes = append(changes, fmt.Sprintf("discovery.segment_keys → %v", nd.SegmentKeys))
	}
	if !reflect.DeepEqual(od.Candidates, nd.Candidates) {
		changes = append(changes, fmt.Sprintf("discovery.candidates → %d pairs", len(nd.Candidates)))
	}
	if od.Workers != nd.Workers {
		changes = append(changes, fmt.Sprintf("discovery.workers → %d", nd.Workers))
	}
	if !reflect.DeepEqual(old.Condense, cur.Condense) {
		changes = append(changes, "condense policy reloaded")
	}
	if old.LogLevel() != cur.LogLevel() {
		changes = append(changes, "logging.level → "+cur.LogLevel())
	}
	if !reflect.DeepEqual(old.Server.CORSOrigins, cur.Server.CORSOrigins) {
		changes = append(changes, fmt.Sprintf("server.cors_origins → %d origins", len(cur.Server.CORSOrigins)))
	}
	if old.Server.RateLimit != cur.Server.RateLimit {
		changes = append(changes, fmt.Sprintf("server.rate_limit → %d", cur.Server.RateLimit))
	}
	return changes, records
}

func unionKeys(a, b map[string]discovery.Threshold) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, m := range []map[string]discovery.Threshold{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// thresholdDiff flattens a threshold to plain JSON values so the record
// hashes the same after being read back from the log.
func thresholdDiff(t discovery.Threshold) map[string]interface{} {
	out := map[string]interface{}{"threshold": t.A}
	if t.Kind != "" {
		out["kind"] = string(t.Kind)
	}
	if t.Delta != 0 {
		out["margin"] = t.Delta
	}
	if t.Match != "" {
		out["match"] = t.Match
	}
	return out
}
