package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/overmindtech/tokengen/driver"
	"github.com/overmindtech/tokengen/state"
	"github.com/overmindtech/tokengen/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Publishes a run that stopped at a git conflict",
	Long: `Checks that the conflict in the repository is resolved, stages everything,
continues the rebase or merge and pushes the token files of the run that is
waiting at the checkpoint.`,
	PreRunE: bindFlags,
	RunE:    Resume,
}

func Resume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	defer tracing.LogRecoverToReturn(ctx, "resume")

	cfg, err := ConfigFromViper()
	if err != nil {
		return err
	}
	if cfg.Telegram.Enabled() {
		if err := cfg.Telegram.Validate(); err != nil {
			return err
		}
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	st, err := state.Open(cfg.StateFile)
	if err != nil {
		return err
	}
	defer st.Close()

	session := &driver.Session{
		// only the clock of the driver is used when resuming
		Driver:    &driver.Driver{},
		Publisher: newRepo(cfg),
		State:     st,
		Notifier:  notifier,
		Branch:    cfg.Repo.Branch,
	}

	run, err := session.Resume(ctx)
	if err != nil {
		switch {
		case errors.Is(err, driver.ErrNoCheckpoint):
			fmt.Fprintln(os.Stderr, "Nothing to resume")
			return nil
		case errors.Is(err, driver.ErrNeedsIntervention):
			fmt.Fprintln(os.Stderr, Yellow.Color(fmt.Sprintf("The repository in %v still has a conflict", cfg.Repo.Dir)))
		default:
			sentry.CaptureException(err)
			log.WithContext(ctx).WithError(err).Error("Resume failed")
		}
		return err
	}

	fmt.Println(Bold.TextStyle(fmt.Sprintf("Run %v published, %d tokens", run.ID, run.Total)))

	return nil
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	addNotifyFlags(resumeCmd)
	addPublishFlags(resumeCmd)
}
