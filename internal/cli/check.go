package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and load every asset once",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context(), configPath, nil)
	if err != nil {
		return err
	}
	defer closeApp(cmd.ErrOrStderr(), a)

	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d assets, strategy %s\n", a.store.Len(), a.strategy)
	return nil
}
