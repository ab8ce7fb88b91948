package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/overmindtech/tokengen/accounts"
	"github.com/overmindtech/tokengen/tokenapi"
)

// scriptedFetcher returns the responses in script in order, one per call,
// and nil once the script runs out
type scriptedFetcher struct {
	mu     sync.Mutex
	script []*tokenapi.Response
	calls  int
}

func (f *scriptedFetcher) Fetch(ctx context.Context, account accounts.Account) *tokenapi.Response {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls > len(f.script) {
		return nil
	}
	return f.script[f.calls-1]
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// regionFetcher issues a token for every account, tagged with the region in
// regions for that uid
type regionFetcher struct {
	regions map[string]string
	latency map[string]time.Duration
}

func (f *regionFetcher) Fetch(ctx context.Context, account accounts.Account) *tokenapi.Response {
	if d, ok := f.latency[account.UID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil
		}
	}
	region, ok := f.regions[account.UID]
	if !ok {
		return nil
	}
	return &tokenapi.Response{Token: "token-" + account.UID, NotiRegion: region}
}

func fakeAccounts(n int) []accounts.Account {
	faker := gofakeit.New(42)
	accts := make([]accounts.Account, n)
	for i := range accts {
		accts[i] = accounts.Account{
			UID:      faker.Numerify("##########"),
			Password: faker.Password(true, true, true, false, false, 16),
		}
	}
	return accts
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		Attempts:  attempts,
		BaseDelay: time.Millisecond,
		Increment: time.Millisecond,
	}
}
