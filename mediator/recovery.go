package mediator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jellydator/ttlcache/v3"

	"github.com/c360studio/discoverer/journal"
	"github.com/c360studio/discoverer/liveness"
	"github.com/c360studio/discoverer/query"
)

// Recover rebuilds the registry from the journal. The journal is replayed
// (the last entry per id wins) and then truncated; each surviving component
// becomes a recovery candidate and is pinged. A candidate is registered again
// once Alive reports it running, and dropped if it is reported dead or does
// not answer within RecoveryTTL. A component registered directly in the
// meantime supersedes its candidate. Recover returns the number of
// candidates.
func (m *Mediator) Recover(ctx context.Context) (int, error) {
	m.writeMu.Lock()
	raw, err := m.journal.ReadAll(ctx)
	if err != nil {
		m.writeMu.Unlock()
		return 0, fmt.Errorf("read journal: %w: %v", ErrIO, err)
	}
	survivors, err := journal.Replay(raw)
	if err != nil {
		m.logger.Warn("Journal contains unreadable entries, skipping them", "error", err)
	}
	if err := m.journal.Truncate(ctx); err != nil {
		m.writeMu.Unlock()
		return 0, fmt.Errorf("truncate journal: %w: %v", ErrIO, err)
	}
	for _, d := range survivors {
		m.candidates.Set(candidateKey(d.ID), d, ttlcache.DefaultTTL)
	}
	m.writeMu.Unlock()
	m.logger.Info("Recovering components from journal", "candidates", len(survivors))

	for _, d := range survivors {
		target := liveness.Target{ComponentID: d.ID, Subject: liveness.SubjectFor(m.config.PingPrefix, d.ID)}
		m.pinger.Ping(ctx, target, liveness.Request{Kind: liveness.KindRecover}, func(r liveness.Result) {
			if _, err := m.Alive(m.runContext(), r.Target.ComponentID, r.Alive()); err != nil {
				m.logger.Warn("Recovery registration failed", "component_id", r.Target.ComponentID, "error", err)
			}
		})
	}
	return len(survivors), nil
}

// Alive resolves a recovery candidate. A live candidate is registered with
// the default lease; a dead one is dropped. It reports whether the candidate
// was registered; unknown or already resolved candidates are ignored, and a
// candidate whose id was registered again since recovery started is dropped.
func (m *Mediator) Alive(ctx context.Context, id string, alive bool) (bool, error) {
	item, ok := m.candidates.GetAndDelete(candidateKey(id))
	if !ok || item == nil {
		return false, nil
	}
	if !alive {
		m.metrics.recovered.WithLabelValues("dead").Inc()
		m.logger.Info("Recovery candidate is gone, dropping", "component_id", id)
		return false, nil
	}

	_, stored, err := m.register(ctx, item.Value(), m.config.DefaultLease, true)
	if err != nil {
		m.metrics.recovered.WithLabelValues("failed").Inc()
		return false, err
	}
	if !stored {
		m.metrics.recovered.WithLabelValues("superseded").Inc()
		m.logger.Info("Recovery candidate already registered again, keeping the live registration", "component_id", id)
		return false, nil
	}
	m.metrics.recovered.WithLabelValues("alive").Inc()
	return true, nil
}

// Candidates returns the number of unresolved recovery candidates.
func (m *Mediator) Candidates() int {
	return m.candidates.Len()
}

// candidateKey matches candidates the way the registry matches ids.
func candidateKey(id string) string {
	return query.Normalize(strings.TrimSpace(id))
}
