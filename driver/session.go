package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overmindtech/tokengen/notify"
	"github.com/overmindtech/tokengen/state"
	"github.com/overmindtech/tokengen/vcs"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrCheckpointPending stops a new run while an earlier one still waits
	// for an operator
	ErrCheckpointPending = errors.New("a previous run is waiting for manual intervention, run `tokengen resume` or pass --force")
	// ErrNeedsIntervention means the run stopped at a checkpoint
	ErrNeedsIntervention = errors.New("manual intervention required")
	// ErrNoCheckpoint is returned by Resume when there is nothing to resume
	ErrNoCheckpoint = errors.New("no run is waiting for manual intervention")
)

// Publisher is the version control side of a run, see vcs.Repo
type Publisher interface {
	Publish(ctx context.Context) (*vcs.PublishResult, error)
	Continue(ctx context.Context) error
}

// Session wraps a Driver with run history and the publish step. When
// publishing hits a conflict the session records a checkpoint in State and
// returns ErrNeedsIntervention instead of waiting; Resume continues from there
type Session struct {
	Driver *Driver
	// Publisher is optional, runs are not published without one
	Publisher Publisher
	State     *state.Store
	Notifier  notify.Notifier
	Branch    string
	// Force starts a run even though a checkpoint is pending. The pending
	// checkpoint is replaced if this run hits a conflict too
	Force bool
}

func (s *Session) notifier() notify.Notifier {
	if s.Notifier == nil {
		return notify.Nop{}
	}
	return s.Notifier
}

func (s *Session) now() time.Time {
	return s.Driver.now()
}

// Run runs every region, records the run and publishes it
func (s *Session) Run(ctx context.Context) (*state.Run, error) {
	cp, err := s.State.Checkpoint()
	if err != nil {
		return nil, err
	}
	if cp != nil {
		if !s.Force {
			return nil, fmt.Errorf("%w (run %v: %v)", ErrCheckpointPending, cp.RunID, cp.Reason)
		}
		log.WithContext(ctx).WithField("run", cp.RunID).Warn("Ignoring pending checkpoint")
	}

	run, err := state.NewRun(s.Driver.regions(), s.now())
	if err != nil {
		return nil, err
	}
	log.WithContext(ctx).WithField("run", run.ID).Info("Starting run")

	report, err := s.Driver.Run(ctx)
	if report != nil {
		run.Summaries = report.Summaries
		run.Total = report.Total
	}
	run.FinishedAt = s.now()
	if err != nil {
		run.Error = err.Error()
		s.save(ctx, run)
		return run, err
	}
	s.save(ctx, run)

	if s.Publisher == nil {
		log.WithContext(ctx).Info("Publishing disabled, leaving token files uncommitted")
		return run, nil
	}

	return run, s.publish(ctx, run)
}

// Resume completes the publish step of the run waiting at the checkpoint
func (s *Session) Resume(ctx context.Context) (*state.Run, error) {
	if s.Publisher == nil {
		return nil, errors.New("resume needs a repository to publish to")
	}

	cp, err := s.State.Checkpoint()
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNoCheckpoint
	}

	run, err := s.State.GetRun(cp.RunID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpointed run: %w", err)
	}

	log.WithContext(ctx).WithFields(log.Fields{
		"run":    run.ID,
		"reason": cp.Reason,
	}).Info("Resuming run")

	if err := s.Publisher.Continue(ctx); err != nil {
		if errors.Is(err, vcs.ErrConflict) {
			return run, s.checkpoint(ctx, run, err)
		}
		return run, err
	}

	return run, s.publish(ctx, run)
}

func (s *Session) publish(ctx context.Context, run *state.Run) error {
	result, err := s.Publisher.Publish(ctx)
	if err != nil {
		if errors.Is(err, vcs.ErrConflict) {
			return s.checkpoint(ctx, run, err)
		}
		run.Error = err.Error()
		s.save(ctx, run)
		return fmt.Errorf("publishing tokens: %w", err)
	}

	run.Published = true
	run.NeedsIntervention = false
	run.Error = ""
	s.save(ctx, run)

	if err := s.State.ClearCheckpoint(); err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}

	log.WithContext(ctx).WithFields(log.Fields{
		"committed": result.Committed,
		"branch":    result.Branch,
	}).Info("Run published")

	return nil
}

func (s *Session) checkpoint(ctx context.Context, run *state.Run, cause error) error {
	cp := &state.Checkpoint{
		RunID:     run.ID,
		CreatedAt: s.now(),
		Reason:    cause.Error(),
		Branch:    s.Branch,
	}
	if err := s.State.SetCheckpoint(cp); err != nil {
		return fmt.Errorf("recording checkpoint: %w", err)
	}

	run.NeedsIntervention = true
	s.save(ctx, run)

	log.WithContext(ctx).WithError(cause).Warn("Git conflict detected, waiting for manual resolution")
	s.notifier().Notify(ctx, notify.InterventionMessage(run.ID.String(), cause.Error()))

	return fmt.Errorf("%w: %w", ErrNeedsIntervention, cause)
}

// the run record is history, failing to write it shouldn't fail the run
func (s *Session) save(ctx context.Context, run *state.Run) {
	if err := s.State.SaveRun(run); err != nil {
		log.WithContext(ctx).WithError(err).Error("Failed to save run history")
	}
}
