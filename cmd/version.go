package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sitedesk/sitedesk/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

var (
	versionFlags *OutputFlags
	versionShort bool
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionFlags = AddOutputFlags(versionCmd)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print the version only")

	rootCmd.Version = version.Get().Short()
	rootCmd.SetVersionTemplate("sitedesk {{.Version}}\n")
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.Get()
	return render(cmd, versionFlags, info, func(w io.Writer) {
		if versionShort {
			fmt.Fprintln(w, info.Short())
			return
		}
		fmt.Fprintln(w, info.String())
	})
}
