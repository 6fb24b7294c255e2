package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSPinger sends pings as NATS requests.
type NATSPinger struct {
	conn    *nats.Conn
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewNATSPinger creates a pinger over conn. A zero timeout uses
// DefaultTimeout.
func NewNATSPinger(conn *nats.Conn, timeout time.Duration, logger *slog.Logger) *NATSPinger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPinger{conn: conn, timeout: timeout, logger: logger}
}

// Ping implements Pinger.
func (p *NATSPinger) Ping(ctx context.Context, target Target, req Request, cb Callback) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.ComponentID == "" {
		req.ComponentID = target.ComponentID
	}
	if req.SentAt.IsZero() {
		req.SentAt = time.Now()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		result := Result{Target: target, Request: req}
		result.Reply, result.Err = p.send(ctx, target, req)
		if result.Err != nil {
			p.logger.Debug("Ping failed",
				"component_id", target.ComponentID,
				"subject", target.Subject,
				"kind", req.Kind,
				"error", result.Err)
		}
		if cb != nil {
			cb(result)
		}
	}()
}

func (p *NATSPinger) send(ctx context.Context, target Target, req Request) (Reply, error) {
	if p.conn == nil {
		return Reply{}, fmt.Errorf("ping %s: %w", target.ComponentID, ErrNoReply)
	}
	data, err := encodeRequest(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode ping: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.conn.RequestWithContext(reqCtx, target.Subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, nats.ErrNoResponders) {
			return Reply{}, fmt.Errorf("ping %s: %w", target.ComponentID, ErrNoReply)
		}
		return Reply{}, fmt.Errorf("ping %s: %w", target.ComponentID, err)
	}
	return decodeReply(msg.Data)
}

// Wait blocks until every in-flight ping has delivered its result.
func (p *NATSPinger) Wait() {
	p.wg.Wait()
}

// Responder answers pings on behalf of a component.
type Responder func(Request) Reply

// Serve subscribes respond to subject and answers every ping it receives.
func Serve(conn *nats.Conn, subject string, respond Responder) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		reply := respond(req)
		reply.RequestID = req.ID
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		_ = msg.Respond(data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}
