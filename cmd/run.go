package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/overmindtech/tokengen/accounts"
	"github.com/overmindtech/tokengen/driver"
	"github.com/overmindtech/tokengen/pipeline"
	"github.com/overmindtech/tokengen/state"
	"github.com/overmindtech/tokengen/tokenapi"
	"github.com/overmindtech/tokengen/tokenstore"
	"github.com/overmindtech/tokengen/tracing"
	"github.com/overmindtech/tokengen/vcs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetches tokens for every region, writes the token files and publishes them",
	Long: `Processes the regions one after another. For each region the accounts in
uid_<REGION>.json are fetched concurrently, tokens issued for another region
are dropped, and the token file for the region is replaced.

When the repository has an unresolved conflict the run stops at a
checkpoint and exits with status 2. Resolve the conflict and run
'tokengen resume' to publish it.`,
	PreRunE: bindFlags,
	RunE:    Run,
}

func Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	defer tracing.LogRecoverToReturn(ctx, "run")

	cfg, err := ConfigFromViper()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.WithContext(ctx).WithFields(cfg.Map()).Debug("Got config")
	warnSharedFiles(cfg)

	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	client, err := tokenapi.NewClient(cfg.Token)
	if err != nil {
		return err
	}

	st, err := state.Open(cfg.StateFile)
	if err != nil {
		return err
	}
	defer st.Close()

	session := &driver.Session{
		Driver: &driver.Driver{
			Regions:     cfg.Regions,
			Accounts:    accounts.NewSource(cfg.AccountsDir, cfg.AccountFormat),
			Retrier:     pipeline.NewRetrier(client, cfg.Retry),
			Concurrency: cfg.Concurrency,
			Store:       tokenstore.New(cfg.OutputDir, cfg.Layout),
			Notifier:    notifier,
		},
		State:    st,
		Notifier: notifier,
		Branch:   cfg.Repo.Branch,
		Force:    cfg.Force,
	}
	if !cfg.SkipPublish {
		session.Publisher = newRepo(cfg)
	}

	run, err := session.Run(ctx)
	if run != nil {
		renderSummaries(os.Stdout, run.Summaries)
	}
	if err != nil {
		switch {
		case errors.Is(err, driver.ErrNeedsIntervention):
			fmt.Fprintln(os.Stderr, Yellow.Color(fmt.Sprintf("Resolve the conflict in %v, then run `tokengen resume`", cfg.Repo.Dir)))
		case errors.Is(err, driver.ErrCheckpointPending):
		default:
			sentry.CaptureException(err)
			log.WithContext(ctx).WithError(err).Error("Run failed")
		}
		return err
	}

	fmt.Println(Bold.TextStyle(fmt.Sprintf("Run %v finished, %d tokens", run.ID, run.Total)))

	return nil
}

// warnSharedFiles logs when more than one of the configured regions writes to
// the same token file, only the last of them survives the run
func warnSharedFiles(cfg *Config) {
	selected := make(map[string]bool, len(cfg.Regions))
	for _, r := range cfg.Regions {
		selected[r] = true
	}
	for file, regions := range cfg.Layout.SharedFiles() {
		var clash []string
		for _, r := range regions {
			if selected[r] {
				clash = append(clash, r)
			}
		}
		if len(clash) > 1 {
			log.WithFields(log.Fields{
				"file":    file,
				"regions": clash,
			}).Warn("Several regions write to the same token file, the last one processed wins")
		}
	}
}

func newRepo(cfg *Config) *vcs.Repo {
	repo := vcs.New(cfg.Repo, nil)
	if url, err := repo.RemoteURL(); err == nil {
		log.WithFields(log.Fields{
			"remote": cfg.Repo.Remote,
			"url":    url,
		}).Debug("Publishing to remote")
	} else {
		log.WithError(err).Debug("Could not read the remote from git config")
	}
	return repo
}

func init() {
	rootCmd.AddCommand(runCmd)

	addFetchFlags(runCmd)
	addNotifyFlags(runCmd)
	addPublishFlags(runCmd)
	runCmd.Flags().Bool("skip-publish", false, "Write the token files but don't commit or push them")
	runCmd.Flags().Bool("force", false, "Start even though an earlier run is waiting at a checkpoint")
}
