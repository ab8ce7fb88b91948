package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	args string
	env  []string
}

// fakeRunner answers git commands from a table keyed on the joined args and
// records every call
type fakeRunner struct {
	responses map[string][]string
	errors    map[string]error
	calls     []call
}

func (f *fakeRunner) Run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, call{args: key, env: env})

	if err, ok := f.errors[key]; ok {
		return "", err
	}
	// each key can have a sequence of responses, the last one repeats
	if outs, ok := f.responses[key]; ok && len(outs) > 0 {
		out := outs[0]
		if len(outs) > 1 {
			f.responses[key] = outs[1:]
		}
		return out, nil
	}
	return "", nil
}

func (f *fakeRunner) args() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.args
	}
	return out
}

const cleanStatus = "On branch main\nnothing to commit, working tree clean"

func newTestRepo(runner Runner) *Repo {
	r := New(Config{Dir: "/repo", Branch: "main", Remote: "origin"}, runner)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local) }
	return r
}

func TestPublishCommitsAndPushes(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]string{
		"status":             {cleanStatus},
		"status --porcelain": {"M  token_ind.json"},
	}}

	result, err := newTestRepo(runner).Publish(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"status",
		"checkout main",
		"add -A",
		"status --porcelain",
		"commit -m Token update 2026-01-02 03:04:05",
		"push origin main",
	}, runner.args())
	assert.True(t, result.Committed)
	assert.Equal(t, "Token update 2026-01-02 03:04:05", result.Message)
	assert.Equal(t, "main", result.Branch)
}

func TestPublishNothingToCommit(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]string{
		"status": {cleanStatus},
	}}

	result, err := newTestRepo(runner).Publish(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.NotContains(t, strings.Join(runner.args(), "\n"), "commit")
	assert.Contains(t, runner.args(), "push origin main")
}

func TestPublishConflict(t *testing.T) {
	for _, status := range []string{
		"interactive rebase in progress; onto abc123",
		"Unmerged paths:\n  (use \"git add <file>...\" to mark resolution)",
		"\tboth modified:   token_ind.json",
	} {
		runner := &fakeRunner{responses: map[string][]string{"status": {status}}}

		_, err := newTestRepo(runner).Publish(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConflict), "expected ErrConflict, got %v", err)
		// nothing was staged or pushed
		assert.Equal(t, []string{"status"}, runner.args())
	}
}

func TestPublishPushFailure(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string][]string{"status": {cleanStatus}},
		errors:    map[string]error{"push origin main": errors.New("rejected")},
	}

	_, err := newTestRepo(runner).Publish(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestContinueRebase(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]string{
		"status": {"interactive rebase in progress; onto abc\nUnmerged paths:", cleanStatus},
	}}

	require.NoError(t, newTestRepo(runner).Continue(context.Background()))

	assert.Equal(t, []string{"status", "add -A", "rebase --continue", "status"}, runner.args())
	assert.Equal(t, []string{"GIT_EDITOR=true"}, runner.calls[2].env)
}

func TestContinueMerge(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]string{
		"status": {"You have unmerged paths.\nUnmerged paths:\n\tboth modified: x", cleanStatus},
	}}

	require.NoError(t, newTestRepo(runner).Continue(context.Background()))
	assert.Equal(t, []string{"status", "add -A", "commit --no-edit", "status"}, runner.args())
}

func TestContinueStillConflicted(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string][]string{"status": {"rebase in progress"}},
		errors:    map[string]error{"rebase --continue": errors.New("needs merge")},
	}

	err := newTestRepo(runner).Continue(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestContinueNothingInProgress(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]string{"status": {cleanStatus}}}

	require.NoError(t, newTestRepo(runner).Continue(context.Background()))
	assert.Equal(t, []string{"status", "add -A", "status"}, runner.args())
}

func TestNewDefaults(t *testing.T) {
	r := New(Config{}, nil)
	assert.Equal(t, ".", r.config.Dir)
	assert.Equal(t, "main", r.config.Branch)
	assert.Equal(t, "origin", r.config.Remote)
	assert.IsType(t, ExecRunner{}, r.runner)
}

func TestExecRunner(t *testing.T) {
	out, err := ExecRunner{Binary: "echo"}.Run(context.Background(), t.TempDir(), nil, "status", "--porcelain")
	if errors.Is(err, os.ErrNotExist) {
		t.Skip("echo not available")
	}
	require.NoError(t, err)
	assert.Equal(t, "status --porcelain", out)

	_, err = ExecRunner{Binary: filepath.Join(t.TempDir(), "missing-git")}.Run(context.Background(), ".", nil, "status")
	assert.Error(t, err)
}
