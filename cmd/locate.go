package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show the project root and asset directory",
	Long: `Search for the site project the way every other command does: the
working directory, the directory of the sitedesk binary, then each folder on
the Desktop (under its localized names). A directory qualifies when it holds
the entrypoint, index.html, main.html, and an asset directory.

Examples:
  sitedesk locate
  sitedesk locate -o json
  sitedesk locate -P ~/sites/shop`,
	Args: cobra.NoArgs,
	RunE: runLocate,
}

var locateFlags *OutputFlags

func init() {
	rootCmd.AddCommand(locateCmd)
	locateFlags = AddOutputFlags(locateCmd)
}

func runLocate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	layout, err := a.locate()
	if err != nil {
		return err
	}
	return render(cmd, locateFlags, layout, func(w io.Writer) {
		fmt.Fprintf(w, "Project:\t%s\n", layout.Root)
		fmt.Fprintf(w, "Assets:\t%s\n", layout.AssetsDir)
	})
}
