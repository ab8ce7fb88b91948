package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/overmindtech/tokengen/accounts"
	"github.com/overmindtech/tokengen/tokenapi"
	"github.com/overmindtech/tokengen/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var errNoToken = errors.New("response did not contain a token")

// Fetcher requests a single token. Implementations signal failure with a nil
// response, see tokenapi.Client
type Fetcher interface {
	Fetch(ctx context.Context, account accounts.Account) *tokenapi.Response
}

// RetryPolicy controls how often and how patiently an account is retried
type RetryPolicy struct {
	// Attempts is the maximum number of requests per account
	Attempts int
	// BaseDelay is the wait before the first retry
	BaseDelay time.Duration
	// Increment is added to the wait for every further retry
	Increment time.Duration
}

// DefaultRetryPolicy is three attempts waiting 10s then 15s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 10 * time.Second,
		Increment: 5 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retries must be at least 1, got %d", p.Attempts)
	}
	if p.BaseDelay < 0 || p.Increment < 0 {
		return fmt.Errorf("retry delays must not be negative, got base %v increment %v", p.BaseDelay, p.Increment)
	}
	return nil
}

// LinearBackOff is a backoff.BackOff that waits Base, Base+Increment,
// Base+2*Increment and so on. It never stops by itself, the number of tries
// is capped by the caller
type LinearBackOff struct {
	Base      time.Duration
	Increment time.Duration

	attempt int
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	d := b.Base + time.Duration(b.attempt)*b.Increment
	b.attempt++
	return d
}

func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// Retrier fetches a token for one account, retrying until a token is issued
// or the policy runs out. Retriers hold no per-account state and can be used
// from many goroutines at once
type Retrier struct {
	Fetcher Fetcher
	Policy  RetryPolicy

	// OnRetry is called before each wait with the 1-based retry number and
	// how long the wait will be
	OnRetry func(serial int, retry int, delay time.Duration)
}

// NewRetrier returns a Retrier using policy
func NewRetrier(fetcher Fetcher, policy RetryPolicy) *Retrier {
	return &Retrier{
		Fetcher: fetcher,
		Policy:  policy,
	}
}

// Fetch runs the retry loop for account. It always returns an outcome, with
// an empty token and region when no attempt succeeded
func (r *Retrier) Fetch(ctx context.Context, serial int, account accounts.Account) Outcome {
	ctx, span := tracing.Tracer().Start(ctx, "tokengen.account", trace.WithAttributes(
		attribute.Int("tokengen.serial", serial),
		attribute.String("tokengen.uid", account.UID),
	))
	defer span.End()

	outcome := Outcome{
		Serial:   serial,
		UID:      account.UID,
		Password: account.Password,
	}

	attempts := r.Policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var retry int
	operation := func() (*tokenapi.Response, error) {
		outcome.Attempts++
		resp := r.Fetcher.Fetch(ctx, account)
		if resp == nil || resp.Token == "" {
			return nil, errNoToken
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&LinearBackOff{Base: r.Policy.BaseDelay, Increment: r.Policy.Increment}),
		backoff.WithMaxTries(uint(attempts)),
		// Attempts is the only budget, long delays must not cut it short
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			retry++
			log.WithContext(ctx).WithFields(log.Fields{
				"uid":   account.UID,
				"delay": next.String(),
			}).Infof("Retry %d/%d for UID #%d", retry, attempts, serial)
			if r.OnRetry != nil {
				r.OnRetry(serial, retry, next)
			}
		}),
	)

	span.SetAttributes(attribute.Int("tokengen.attempts", outcome.Attempts))

	if err != nil {
		span.SetAttributes(attribute.Bool("tokengen.success", false))
		return outcome
	}

	outcome.Token = resp.Token
	outcome.Region = resp.NotiRegion
	span.SetAttributes(
		attribute.Bool("tokengen.success", true),
		attribute.String("tokengen.reportedRegion", resp.NotiRegion),
	)

	return outcome
}
