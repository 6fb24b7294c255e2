//go:build integration

package liveness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

func TestNATSPinger_RoundTrip(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	conn := tc.Client.GetConnection()

	subject := SubjectFor("discoverer", "w1")
	sub, err := Serve(conn, subject, func(req Request) Reply {
		if req.Kind == KindReconfirm {
			return Reply{Action: ActionRenew, LeaseSeconds: 60}
		}
		return Reply{Action: ActionAlive}
	})
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	defer sub.Unsubscribe()

	p := NewNATSPinger(conn, 2*time.Second, nil)
	results := make(chan Result, 2)
	cb := func(r Result) { results <- r }

	p.Ping(context.Background(), Target{ComponentID: "w1", Subject: subject}, Request{Kind: KindReconfirm}, cb)
	p.Ping(context.Background(), Target{ComponentID: "gone", Subject: SubjectFor("discoverer", "gone")}, Request{Kind: KindRecover}, cb)
	p.Wait()

	for i := 0; i < 2; i++ {
		r := <-results
		switch r.Target.ComponentID {
		case "w1":
			if r.Err != nil {
				t.Fatalf("ping w1 error = %v", r.Err)
			}
			if r.Reply.Action != ActionRenew || r.Reply.Lease() != time.Minute {
				t.Errorf("reply = %+v, want renew for 60s", r.Reply)
			}
			if r.Reply.RequestID != r.Request.ID {
				t.Errorf("reply request id = %q, want %q", r.Reply.RequestID, r.Request.ID)
			}
		case "gone":
			if !errors.Is(r.Err, ErrNoReply) {
				t.Errorf("ping gone error = %v, want ErrNoReply", r.Err)
			}
		}
	}
}
