package pipeline

import (
	"context"

	"github.com/overmindtech/tokengen/accounts"
	"github.com/sourcegraph/conc/iter"
)

// AccountFetcher produces the outcome for one account. *Retrier is the
// implementation used outside of tests
type AccountFetcher interface {
	Fetch(ctx context.Context, serial int, account accounts.Account) Outcome
}

// FanOut fetches every account concurrently and returns one outcome per
// account in input order. At most concurrency fetches run at once; zero or a
// negative value starts one goroutine per account. FanOut returns only once
// every fetch has settled
func FanOut(ctx context.Context, fetcher AccountFetcher, accts []accounts.Account, concurrency int) []Outcome {
	outcomes := make([]Outcome, len(accts))
	if len(accts) == 0 {
		return outcomes
	}

	if concurrency <= 0 || concurrency > len(accts) {
		concurrency = len(accts)
	}

	it := iter.Iterator[accounts.Account]{MaxGoroutines: concurrency}
	it.ForEachIdx(accts, func(i int, account *accounts.Account) {
		outcomes[i] = fetcher.Fetch(ctx, i+1, *account)
	})

	return outcomes
}
