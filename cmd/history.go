package cmd

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/overmindtech/tokengen/state"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Shows recent runs",
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := homedir.Expand(viper.GetString("state-file"))
		if err != nil {
			return err
		}

		st, err := state.Open(path)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.Runs(viper.GetInt("limit"))
		if err != nil {
			return err
		}
		cp, err := st.Checkpoint()
		if err != nil {
			return err
		}

		renderHistory(os.Stdout, runs, cp, time.Now())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Int("limit", 10, "How many runs to show, 0 shows all of them")
}
