//go:build integration

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

func TestStreamLog_AppendReadTruncate(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	js, err := tc.Client.JetStream()
	if err != nil {
		t.Fatalf("JetStream() error = %v", err)
	}

	cfg := DefaultStreamConfig()
	cfg.Name = "DISCOVERER_JOURNAL_TEST"
	cfg.Subject = "discoverer.test.journal"
	cfg.FetchWait = 500 * time.Millisecond

	log, err := NewStreamLog(ctx, js, cfg, nil)
	if err != nil {
		t.Fatalf("NewStreamLog() error = %v", err)
	}

	raw, err := log.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() on empty stream error = %v", err)
	}
	if raw != "" {
		t.Fatalf("ReadAll() on empty stream = %q, want empty", raw)
	}

	for _, step := range []struct {
		op Op
		id string
	}{
		{OpAdd, "A"}, {OpAdd, "B"}, {OpRemove, "A"}, {OpAdd, "A"},
	} {
		if err := log.Append(ctx, step.op, component(step.id, 1)); err != nil {
			t.Fatalf("Append(%s, %s) error = %v", step.op, step.id, err)
		}
	}

	raw, err = log.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	got, err := Replay(raw)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "B" || got[1].ID != "A" {
		t.Fatalf("Replay() ids = %v, want [B A]", ids(got))
	}

	if err := log.Truncate(ctx); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	raw, err = log.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() after truncate error = %v", err)
	}
	if raw != "" {
		t.Errorf("ReadAll() after truncate = %q, want empty", raw)
	}
}
