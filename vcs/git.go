// Package vcs commits and pushes the generated token files with the git
// command line.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrConflict is returned when the repository is stuck in a merge or rebase
// that needs a human to resolve it
var ErrConflict = errors.New("repository has unresolved conflicts")

// conflictMarkers are the bits of `git status` output that mean we can't
// safely commit
var conflictMarkers = []string{
	"both modified",
	"Unmerged paths",
	"rebase in progress",
}

// Runner runs git with args in dir and returns the combined output
type Runner interface {
	Run(ctx context.Context, dir string, env []string, args ...string) (string, error)
}

// ExecRunner runs the git binary found on PATH
type ExecRunner struct {
	// Binary overrides the git executable, mostly for tests
	Binary string
}

func (e ExecRunner) Run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	binary := e.Binary
	if binary == "" {
		binary = "git"
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	// status output is matched on, keep it in English
	cmd.Env = append(append(os.Environ(), "LC_ALL=C"), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err != nil {
		return output, fmt.Errorf("git %v: %w: %v", strings.Join(args, " "), err, output)
	}
	return output, nil
}

// Config for the repository the token files live in
type Config struct {
	Dir    string
	Branch string
	Remote string
}

// DefaultConfig publishes the current directory to origin/main
func DefaultConfig() Config {
	return Config{
		Dir:    ".",
		Branch: "main",
		Remote: "origin",
	}
}

// PublishResult describes what Publish did
type PublishResult struct {
	// Committed is false when there was nothing to commit
	Committed bool
	Message   string
	Branch    string
}

// Repo wraps a git working copy
type Repo struct {
	config Config
	runner Runner
	now    func() time.Time
}

// New returns a Repo. A nil runner uses ExecRunner
func New(config Config, runner Runner) *Repo {
	if runner == nil {
		runner = ExecRunner{}
	}
	if config.Dir == "" {
		config.Dir = "."
	}
	if config.Branch == "" {
		config.Branch = "main"
	}
	if config.Remote == "" {
		config.Remote = "origin"
	}
	return &Repo{
		config: config,
		runner: runner,
		now:    time.Now,
	}
}

func (r *Repo) git(ctx context.Context, env []string, args ...string) (string, error) {
	log.WithContext(ctx).WithField("dir", r.config.Dir).Debugf("git %v", strings.Join(args, " "))
	return r.runner.Run(ctx, r.config.Dir, env, args...)
}

// Conflict returns the first conflict marker found in `git status`, or an
// empty string if the repository is clean enough to commit
func (r *Repo) Conflict(ctx context.Context) (string, error) {
	status, err := r.git(ctx, nil, "status")
	if err != nil {
		return "", err
	}
	for _, marker := range conflictMarkers {
		if strings.Contains(status, marker) {
			return marker, nil
		}
	}
	return "", nil
}

// Publish stages everything, commits with a timestamped message if anything
// changed and pushes the branch. If the repository is mid merge or rebase it
// returns ErrConflict without touching anything
func (r *Repo) Publish(ctx context.Context) (*PublishResult, error) {
	marker, err := r.Conflict(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking repository state: %w", err)
	}
	if marker != "" {
		return nil, fmt.Errorf("%w: %v", ErrConflict, marker)
	}

	if _, err := r.git(ctx, nil, "checkout", r.config.Branch); err != nil {
		return nil, err
	}
	if _, err := r.git(ctx, nil, "add", "-A"); err != nil {
		return nil, err
	}

	result := &PublishResult{Branch: r.config.Branch}

	changes, err := r.git(ctx, nil, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if changes == "" {
		log.WithContext(ctx).Info("No changes to commit")
	} else {
		result.Message = fmt.Sprintf("Token update %v", r.now().Format("2006-01-02 15:04:05"))
		if _, err := r.git(ctx, nil, "commit", "-m", result.Message); err != nil {
			return nil, err
		}
		result.Committed = true
	}

	if _, err := r.git(ctx, nil, "push", r.config.Remote, r.config.Branch); err != nil {
		return nil, err
	}

	log.WithContext(ctx).WithFields(log.Fields{
		"branch":    r.config.Branch,
		"remote":    r.config.Remote,
		"committed": result.Committed,
	}).Info("Changes pushed")

	return result, nil
}

// Continue picks up after an operator has resolved a conflict: the resolved
// files are staged and the interrupted rebase or merge is completed. It
// returns ErrConflict if the repository is still conflicted afterwards
func (r *Repo) Continue(ctx context.Context) error {
	status, err := r.git(ctx, nil, "status")
	if err != nil {
		return err
	}

	if _, err := r.git(ctx, nil, "add", "-A"); err != nil {
		return err
	}

	// GIT_EDITOR=true accepts the prepared message instead of opening an editor
	editor := []string{"GIT_EDITOR=true"}
	switch {
	case strings.Contains(status, "rebase in progress"):
		if _, err := r.git(ctx, editor, "rebase", "--continue"); err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	case strings.Contains(status, "Unmerged paths"), strings.Contains(status, "still merging"):
		if _, err := r.git(ctx, editor, "commit", "--no-edit"); err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}

	marker, err := r.Conflict(ctx)
	if err != nil {
		return err
	}
	if marker != "" {
		return fmt.Errorf("%w: %v", ErrConflict, marker)
	}

	log.WithContext(ctx).Info("Rebase continued successfully")
	return nil
}
