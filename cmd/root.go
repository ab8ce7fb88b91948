package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/overmindtech/tokengen/driver"
	"github.com/overmindtech/tokengen/logging"
	"github.com/overmindtech/tokengen/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
)

var cfgFile string

const (
	exitError        = 1
	exitIntervention = 2
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tokengen",
	Short: "Fetches access tokens for game accounts and publishes them per region",
	Long: `tokengen reads account files (uid_<REGION>.json), fetches a token for
every account from the token endpoint, keeps the ones issued for the right
region and writes them to the per-region token files. The files are then
committed and pushed, and progress is reported to Telegram.
`,
	Version:       tracing.Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	// shut down tracing at the end of the process
	tracing.ShutdownTracer(context.Background())

	if err != nil {
		fmt.Fprintln(os.Stderr, Red.Color(err.Error()))
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error from a command onto the process exit code
func exitCode(err error) int {
	if errors.Is(err, driver.ErrNeedsIntervention) || errors.Is(err, driver.ErrCheckpointPending) {
		return exitIntervention
	}
	return exitError
}

// bindFlags binds the flags of the command being run to viper. Commands share
// flag names so this can't happen in init
func bindFlags(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("could not bind `%v` flags: %w", cmd.Name(), err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// General config options
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (YAML, JSON or TOML)")
	rootCmd.PersistentFlags().String("log", "info", "Set the log level. Valid values: panic, fatal, error, warn, info, debug, trace")
	rootCmd.PersistentFlags().Bool("json-log", false, "Set to true to emit logs as json for easier parsing.")
	rootCmd.PersistentFlags().String("state-file", "~/.tokengen/state.db", "Where run history and checkpoints are kept")

	// tracing
	rootCmd.PersistentFlags().Bool("otel", false, "If specified, configures opentelemetry and - optionally, see --sentry-dsn - sentry using their default environment configs.")
	rootCmd.PersistentFlags().String("honeycomb-api-key", "", "If specified, configures opentelemetry libraries to submit traces to honeycomb. This requires --otel to be set.")
	cobra.CheckErr(viper.BindEnv("honeycomb-api-key", "TOKENGEN_HONEYCOMB_API_KEY", "HONEYCOMB_API_KEY")) // fallback to global config
	rootCmd.PersistentFlags().String("sentry-dsn", "", "If specified, configures sentry libraries to capture errors. This requires --otel to be set.")
	cobra.CheckErr(viper.BindEnv("sentry-dsn", "TOKENGEN_SENTRY_DSN", "SENTRY_DSN")) // fallback to global config
	rootCmd.PersistentFlags().String("run-mode", "release", "Set the run mode for this service, 'release', 'debug' or 'test'. Defaults to 'release'.")

	// debugging
	rootCmd.PersistentFlags().Bool("stdout-trace-dump", false, "Dump all otel traces to stdout for debugging. This requires --otel to be set.")

	// Bind these to viper
	err := viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		log.WithError(err).Fatal("could not bind `root` flags")
	}

	// Run this before we do anything to set up the loglevel
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Configure(log.StandardLogger(), logging.Options{
			Level: viper.GetString("log"),
			JSON:  viper.GetBool("json-log"),
		})

		if viper.GetBool("otel") {
			if err := tracing.InitTracerWithUpstreams("tokengen", viper.GetString("honeycomb-api-key"), viper.GetString("sentry-dsn")); err != nil {
				return err
			}

			log.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
				log.AllLevels[:log.GetLevel()+1]...,
			)))
		}
		return nil
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	replacer := strings.NewReplacer("-", "_")

	viper.SetEnvKeyReplacer(replacer)
	viper.SetEnvPrefix("TOKENGEN")
	viper.AutomaticEnv() // read in environment variables that match

	if cfgFile == "" {
		return
	}

	path, err := homedir.Expand(cfgFile)
	cobra.CheckErr(err)
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		cobra.CheckErr(fmt.Errorf("reading config file %v: %w", path, err))
	}
	log.Debugf("Using config file: %v", viper.ConfigFileUsed())
}
