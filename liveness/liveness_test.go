package liveness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "discoverer.ping.w1", SubjectFor("discoverer", "w1"))
	assert.Equal(t, "discoverer.ping.my_widget__", SubjectFor("discoverer", "my widget*>"))
}

func TestDecodeReply(t *testing.T) {
	reply, err := decodeReply([]byte(`{"request_id":"r1","action":"renew","lease_seconds":30}`))
	require.NoError(t, err)
	assert.Equal(t, ActionRenew, reply.Action)
	assert.Equal(t, 30*time.Second, reply.Lease())

	_, err = decodeReply([]byte(`{"action":"sleep"}`))
	assert.Error(t, err)

	_, err = decodeReply([]byte(`not json`))
	assert.Error(t, err)
}

func TestNATSPinger_NoConnectionReportsNoReply(t *testing.T) {
	p := NewNATSPinger(nil, 0, nil)
	assert.Equal(t, DefaultTimeout, p.timeout)

	results := make(chan Result, 1)
	p.Ping(context.Background(), Target{ComponentID: "w1", Subject: "x"}, Request{Kind: KindRecover}, func(r Result) {
		results <- r
	})
	p.Wait()

	r := <-results
	assert.False(t, r.Alive())
	assert.True(t, errors.Is(r.Err, ErrNoReply))
	assert.NotEmpty(t, r.Request.ID, "request ids are generated")
	assert.Equal(t, "w1", r.Request.ComponentID)
}
