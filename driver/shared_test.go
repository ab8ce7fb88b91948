package driver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/overmindtech/tokengen/accounts"
	"github.com/overmindtech/tokengen/pipeline"
	"github.com/overmindtech/tokengen/tokenapi"
	"github.com/overmindtech/tokengen/tokenstore"
	"github.com/overmindtech/tokengen/vcs"
)

// tokenServer issues a token for every uid it knows, reporting the region in
// regions, and fails for the rest
type tokenServer struct {
	regions map[string]string
}

func (s *tokenServer) Fetch(ctx context.Context, account accounts.Account) *tokenapi.Response {
	region, ok := s.regions[account.UID]
	if !ok {
		return nil
	}
	return &tokenapi.Response{Token: "tok-" + account.UID, NotiRegion: region}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// fakePublisher returns the errors in publish and cont in order, then nil
type fakePublisher struct {
	publish   []error
	cont      []error
	published int
	continued int
}

func (p *fakePublisher) Publish(ctx context.Context) (*vcs.PublishResult, error) {
	p.published++
	if len(p.publish) > 0 {
		err := p.publish[0]
		p.publish = p.publish[1:]
		if err != nil {
			return nil, err
		}
	}
	return &vcs.PublishResult{Committed: true, Branch: "main"}, nil
}

func (p *fakePublisher) Continue(ctx context.Context) error {
	p.continued++
	if len(p.cont) > 0 {
		err := p.cont[0]
		p.cont = p.cont[1:]
		return err
	}
	return nil
}

func writeAccounts(t *testing.T, dir, region string, accts []accounts.Account) {
	t.Helper()

	b, err := json.Marshal(accts)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "uid_"+region+".json"), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

// fixedClock advances a second on every call
func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestDriver(t *testing.T, dir string, server *tokenServer, regions ...string) (*Driver, *recordingNotifier) {
	t.Helper()

	notifier := &recordingNotifier{}
	retrier := pipeline.NewRetrier(server, pipeline.RetryPolicy{
		Attempts:  2,
		BaseDelay: time.Millisecond,
		Increment: time.Millisecond,
	})

	return &Driver{
		Regions:     regions,
		Accounts:    accounts.NewSource(dir, accounts.FormatJSON),
		Retrier:     retrier,
		Concurrency: 4,
		Store:       tokenstore.New(dir, tokenstore.DefaultLayout()),
		Notifier:    notifier,
		Clock:       fixedClock(),
	}, notifier
}
