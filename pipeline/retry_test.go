package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/overmindtech/tokengen/accounts"
	"github.com/overmindtech/tokengen/tokenapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackOff(t *testing.T) {
	policy := DefaultRetryPolicy()
	b := &LinearBackOff{Base: policy.BaseDelay, Increment: policy.Increment}

	assert.Equal(t, 10*time.Second, b.NextBackOff())
	assert.Equal(t, 15*time.Second, b.NextBackOff())
	assert.Equal(t, 20*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 10*time.Second, b.NextBackOff())
}

func TestRetrierSucceedsOnThirdAttempt(t *testing.T) {
	fetcher := &scriptedFetcher{script: []*tokenapi.Response{
		nil,
		{Token: ""},
		{Token: "abc", NotiRegion: "IND"},
	}}

	// same shape as the default policy, in milliseconds
	r := NewRetrier(fetcher, RetryPolicy{Attempts: 3, BaseDelay: 10 * time.Millisecond, Increment: 5 * time.Millisecond})

	var mu sync.Mutex
	var delays []time.Duration
	r.OnRetry = func(serial, retry int, delay time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, delay)
	}

	start := time.Now()
	outcome := r.Fetch(context.Background(), 1, accounts.Account{UID: "1", Password: "p"})
	elapsed := time.Since(start)

	assert.Equal(t, 3, fetcher.Calls())
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, "abc", outcome.Token)
	assert.Equal(t, "IND", outcome.Region)
	assert.True(t, outcome.OK())

	require.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, delays)
	var total time.Duration
	for _, d := range delays {
		total += d
	}
	assert.Equal(t, 25*time.Millisecond, total)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestRetrierExhausted(t *testing.T) {
	fetcher := &scriptedFetcher{}
	r := NewRetrier(fetcher, fastPolicy(3))

	var retries int
	r.OnRetry = func(serial, retry int, delay time.Duration) {
		retries++
	}

	outcome := r.Fetch(context.Background(), 7, accounts.Account{UID: "42", Password: "secret"})

	assert.Equal(t, 3, fetcher.Calls())
	assert.Equal(t, 3, outcome.Attempts)
	// no wait after the final failure
	assert.Equal(t, 2, retries)
	assert.False(t, outcome.OK())
	assert.Empty(t, outcome.Token)
	assert.Empty(t, outcome.Region)
	assert.Equal(t, 7, outcome.Serial)
	assert.Equal(t, "42", outcome.UID)
	assert.Equal(t, "secret", outcome.Password)
}

func TestRetrierFirstAttempt(t *testing.T) {
	fetcher := &scriptedFetcher{script: []*tokenapi.Response{{Token: "t", NotiRegion: "BD"}}}
	r := NewRetrier(fetcher, DefaultRetryPolicy())

	start := time.Now()
	outcome := r.Fetch(context.Background(), 1, accounts.Account{UID: "1"})

	assert.Equal(t, 1, fetcher.Calls())
	assert.Equal(t, "t", outcome.Token)
	// the default policy would have waited 10s if it had retried
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrierIgnoresElapsedTimeLimit(t *testing.T) {
	fetcher := &scriptedFetcher{}
	r := NewRetrier(fetcher, RetryPolicy{Attempts: 3, BaseDelay: 16 * time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	r.OnRetry = func(serial, retry int, delay time.Duration) {
		delays = append(delays, delay)
		// the wait is scheduled, no need to sit through it
		cancel()
	}

	outcome := r.Fetch(ctx, 1, accounts.Account{UID: "1"})

	assert.False(t, outcome.OK())
	assert.Equal(t, 1, fetcher.Calls())
	assert.Equal(t, []time.Duration{16 * time.Minute}, delays)
}

func TestRetrierSingleAttemptPolicy(t *testing.T) {
	fetcher := &scriptedFetcher{}
	r := NewRetrier(fetcher, RetryPolicy{Attempts: 0})

	outcome := r.Fetch(context.Background(), 1, accounts.Account{UID: "1"})
	assert.Equal(t, 1, fetcher.Calls())
	assert.False(t, outcome.OK())
}

func TestRetrierCancelled(t *testing.T) {
	fetcher := &scriptedFetcher{}
	r := NewRetrier(fetcher, RetryPolicy{Attempts: 3, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan Outcome)
	go func() {
		done <- r.Fetch(ctx, 1, accounts.Account{UID: "1"})
	}()

	select {
	case outcome := <-done:
		assert.False(t, outcome.OK())
		assert.Equal(t, 1, fetcher.Calls())
	case <-time.After(5 * time.Second):
		t.Fatal("retrier did not stop after cancellation")
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultRetryPolicy().Validate())
	assert.Error(t, RetryPolicy{Attempts: 0}.Validate())
	assert.Error(t, RetryPolicy{Attempts: 1, BaseDelay: -time.Second}.Validate())
}
