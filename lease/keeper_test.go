package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

type recorder struct {
	mu      sync.Mutex
	ending  []Lease
	expired []Lease
}

func (r *recorder) LeaseEnding(l Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ending = append(r.ending, l)
}

func (r *recorder) LeaseExpired(l Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, l)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ending), len(r.expired)
}

func testConfig() Config {
	return Config{
		SweepInterval:   100 * time.Millisecond,
		ReconfirmWindow: 200 * time.Millisecond,
		ReplyTimeout:    300 * time.Millisecond,
	}
}

func newTestKeeper(t *testing.T) (*Keeper, *recorder, *testclock.FakeClock) {
	t.Helper()
	fc := testclock.NewFakeClock(time.Now())
	rec := &recorder{}
	return NewKeeper(testConfig(), rec, WithClock(fc)), rec, fc
}

func advance(k *Keeper, fc *testclock.FakeClock, steps int) {
	for i := 0; i < steps; i++ {
		fc.Step(100 * time.Millisecond)
		k.Sweep()
	}
}

func TestKeeper_OneReconfirmationThenOneExpiry(t *testing.T) {
	k, rec, fc := newTestKeeper(t)
	k.Add(7, "w1", time.Second)

	advance(k, fc, 7)
	ending, expired := rec.counts()
	assert.Equal(t, 0, ending, "still outside the reconfirmation window")

	advance(k, fc, 1)
	ending, expired = rec.counts()
	assert.Equal(t, 1, ending)
	assert.Equal(t, 0, expired)

	advance(k, fc, 4)
	ending, expired = rec.counts()
	assert.Equal(t, 1, ending)
	assert.Equal(t, 0, expired, "reply timeout runs from expiry")

	advance(k, fc, 1)
	ending, expired = rec.counts()
	assert.Equal(t, 1, ending)
	assert.Equal(t, 1, expired)

	advance(k, fc, 30)
	ending, expired = rec.counts()
	assert.Equal(t, 1, ending)
	assert.Equal(t, 1, expired)

	assert.Equal(t, 7, rec.expired[0].Index)
	assert.Equal(t, "w1", rec.expired[0].ComponentID)
	_, ok := k.Get(7)
	assert.False(t, ok)
}

func TestKeeper_RenewalResetsNotification(t *testing.T) {
	k, rec, fc := newTestKeeper(t)
	k.Add(1, "w1", time.Second)

	advance(k, fc, 9)
	ending, _ := rec.counts()
	require.Equal(t, 1, ending)

	require.True(t, k.Renew(1, time.Second))
	advance(k, fc, 7)
	ending, expired := rec.counts()
	assert.Equal(t, 1, ending)
	assert.Equal(t, 0, expired)

	advance(k, fc, 1)
	ending, expired = rec.counts()
	assert.Equal(t, 2, ending, "a new term is notified again")
	assert.Equal(t, 0, expired)

	assert.False(t, k.Renew(99, time.Second))
}

func TestKeeper_ZeroDurationNeverExpires(t *testing.T) {
	k, rec, fc := newTestKeeper(t)
	l := k.Add(3, "static", 0)
	assert.False(t, l.Expires())

	advance(k, fc, 100)
	ending, expired := rec.counts()
	assert.Zero(t, ending)
	assert.Zero(t, expired)
	assert.Equal(t, 1, k.Len())
}

func TestKeeper_RemoveStopsTracking(t *testing.T) {
	k, rec, fc := newTestKeeper(t)
	k.Add(1, "w1", time.Second)
	k.Remove(1)

	advance(k, fc, 20)
	ending, expired := rec.counts()
	assert.Zero(t, ending)
	assert.Zero(t, expired)
	assert.Zero(t, k.Len())
}

func TestKeeper_AddReplacesSlotLease(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	k.Add(1, "w1", time.Second)
	k.Add(1, "w1", time.Minute)

	l, ok := k.Get(1)
	require.True(t, ok)
	assert.Equal(t, time.Minute, l.Duration)
	assert.Equal(t, 1, k.Len())
}

func TestKeeper_Run(t *testing.T) {
	k, rec, fc := newTestKeeper(t)
	k.Add(1, "w1", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		fc.Step(100 * time.Millisecond)
		_, expired := rec.counts()
		return expired == 1
	}, 5*time.Second, time.Millisecond)

	ending, _ := rec.counts()
	assert.Equal(t, 1, ending)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
