package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/chenyanchen/hotreload"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Load every asset and print its reload status",
	Long: `Loads the assets declared in the config file, runs one frame and prints
one row per asset: its source, format, how many times its content was
swapped and the last reload error, if any.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context(), configPath, nil)
	if err != nil {
		return err
	}
	defer closeApp(cmd.ErrOrStderr(), a)

	a.step(cmd.Context())
	st := a.registry.Status()
	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	return printStatus(cmd.OutOrStdout(), st)
}

func printStatus(out io.Writer, st hotreload.Status) error {
	fmt.Fprintf(out, "frame %d, strategy %s\n", st.Frame, st.Strategy)
	if len(st.Assets) == 0 {
		fmt.Fprintln(out, "No assets.")
		return nil
	}
	rows := make([][]string, 0, len(st.Assets))
	for _, a := range st.Assets {
		rows = append(rows, []string{
			a.Key.String(),
			a.Format,
			a.Source,
			strconv.FormatUint(a.Generation, 10),
			a.LastError,
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ASSET", "FORMAT", "SOURCE", "GEN", "LAST ERROR").
		Rows(rows...)
	_, err := fmt.Fprintln(out, t.Render())
	return err
}
