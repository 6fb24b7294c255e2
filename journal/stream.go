package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/discoverer/description"
)

// Stream defaults.
const (
	DefaultStreamName    = "DISCOVERER_JOURNAL"
	DefaultStreamSubject = "discoverer.journal"
)

// StreamConfig configures a JetStream-backed journal.
type StreamConfig struct {
	Name     string
	Subject  string
	Replicas int
	// FetchWait bounds each batch fetch while reading the journal back.
	FetchWait time.Duration
	Retry     retry.Config
}

// DefaultStreamConfig returns the default stream settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:      DefaultStreamName,
		Subject:   DefaultStreamSubject,
		Replicas:  1,
		FetchWait: 2 * time.Second,
		Retry:     retry.DefaultConfig(),
	}
}

// StreamLog stores journal lines as messages of a JetStream stream.
type StreamLog struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	config StreamConfig
	logger *slog.Logger
}

// NewStreamLog creates or updates the journal stream.
func NewStreamLog(ctx context.Context, js jetstream.JetStream, cfg StreamConfig, logger *slog.Logger) (*StreamLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultStreamConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Subject == "" {
		cfg.Subject = defaults.Subject
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = defaults.Replicas
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = defaults.FetchWait
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = defaults.Retry
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Name,
		Description: "Discoverer registry journal",
		Subjects:    []string{cfg.Subject},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create journal stream %s: %w", cfg.Name, err)
	}

	return &StreamLog{js: js, stream: stream, config: cfg, logger: logger}, nil
}

// Append implements Log. Publishing is retried; encoding failures are not.
func (s *StreamLog) Append(ctx context.Context, op Op, d *description.ComponentDescription) error {
	line, err := FormatEntry(op, d)
	if err != nil {
		return err
	}
	data := []byte(line)

	err = retry.Do(ctx, s.config.Retry, func() error {
		if _, err := s.js.Publish(ctx, s.config.Subject, data); err != nil {
			if ctx.Err() != nil {
				return retry.NonRetryable(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Journal append failed",
			"op", op,
			"component_id", d.ID,
			"retryable", !retry.IsNonRetryable(err),
			"error", err)
		return fmt.Errorf("publish journal entry: %w", err)
	}
	return nil
}

// ReadAll implements Log. Messages are read with an ordered consumer up to
// the last sequence present when the read started.
func (s *StreamLog) ReadAll(ctx context.Context) (string, error) {
	info, err := s.stream.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("journal stream info: %w", err)
	}
	if info.State.Msgs == 0 {
		return "", nil
	}
	last := info.State.LastSeq

	consumer, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.config.Subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return "", fmt.Errorf("journal consumer: %w", err)
	}

	var b strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		batch, err := consumer.Fetch(256, jetstream.FetchMaxWait(s.config.FetchWait))
		if err != nil {
			return "", fmt.Errorf("fetch journal: %w", err)
		}
		received := 0
		done := false
		for msg := range batch.Messages() {
			received++
			b.Write(msg.Data())
			b.WriteByte('\n')
			meta, err := msg.Metadata()
			if err == nil && meta.Sequence.Stream >= last {
				done = true
			}
		}
		if err := batch.Error(); err != nil {
			return "", fmt.Errorf("fetch journal: %w", err)
		}
		if done || received == 0 {
			break
		}
	}
	return b.String(), nil
}

// Truncate implements Log by purging the stream.
func (s *StreamLog) Truncate(ctx context.Context) error {
	if err := s.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge journal stream: %w", err)
	}
	return nil
}
