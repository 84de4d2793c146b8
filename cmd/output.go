package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"table", "json", "yaml"}

// OutputFlags are shared by every command that prints a result.
type OutputFlags struct {
	Format string
	Quiet  bool
}

// AddOutputFlags registers -o/--output and -q/--quiet on cmd.
func AddOutputFlags(cmd *cobra.Command) *OutputFlags {
	flags := &OutputFlags{}
	cmd.Flags().StringVarP(&flags.Format, "output", "o", "table", "Output format (table|json|yaml)")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress table output")
	return flags
}

// Validate checks the output format.
func (f *OutputFlags) Validate() error {
	format := strings.ToLower(f.Format)
	for _, valid := range outputFormats {
		if format == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %q, must be one of: %s", f.Format, strings.Join(outputFormats, ", "))
}

// render writes v as JSON or YAML, or calls table for the human format.
func render(cmd *cobra.Command, f *OutputFlags, v any, table func(w io.Writer)) error {
	if err := f.Validate(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch strings.ToLower(f.Format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		if f.Quiet {
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}
