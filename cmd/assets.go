package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitedesk/sitedesk/internal/assets"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

var assetsCmd = &cobra.Command{
	Use:     "assets",
	Aliases: []string{"a"},
	Short:   "List, inspect, and maintain image assets",
}

var assetsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List image assets",
	Long: `List the image files of the asset directory in name order.

Examples:
  sitedesk assets list
  sitedesk assets list --detail
  sitedesk assets list -o json`,
	Args: cobra.NoArgs,
	RunE: runAssetsList,
}

var assetsInspectCmd = &cobra.Command{
	Use:   "inspect ASSET...",
	Short: "Show format, dimensions, color mode, and size",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAssetsInspect,
}

var assetsImportCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Copy image files into the asset directory",
	Long: `Copy image files into the asset directory. Files that are not images
are rejected; an existing asset with the same name is replaced. Every file is
handled on its own, so one failure does not stop the rest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAssetsImport,
}

var assetsBackupCmd = &cobra.Command{
	Use:   "backup [DEST]",
	Short: "Copy the asset directory into a timestamped folder",
	Long: `Copy the asset directory to DEST/sitedesk_images_backup_YYYYMMDD_HHMMSS.
DEST defaults to the directory that contains the project.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAssetsBackup,
}

var assetsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete edited copies, keeping the originals",
	Long: `Delete files whose names carry an edit tag (_resized, _bright,
_contrast, _blur, _sharp, _rotated, _cropped, _flipped, _converted,
_modified). With --keep-referenced, copies used by the site documents stay.`,
	Args: cobra.NoArgs,
	RunE: runAssetsClean,
}

var assetsOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Re-encode JPEG and PNG assets in place when it saves space",
	Args:  cobra.NoArgs,
	RunE:  runAssetsOptimize,
}

var assetsRefsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Show which assets the site documents use",
	Args:  cobra.NoArgs,
	RunE:  runAssetsRefs,
}

var (
	assetsFlags     *OutputFlags
	assetsDetail    bool
	cleanKeepRefs   bool
	optimizeQuality int
	inspectFlags    *OutputFlags
	importFlags     *OutputFlags
	backupFlags     *OutputFlags
	cleanFlags      *OutputFlags
	optimizeFlags   *OutputFlags
	refsFlags       *OutputFlags
	refsOnlyUnused  bool
	backupClock     = time.Now
)

func init() {
	rootCmd.AddCommand(assetsCmd)
	assetsCmd.AddCommand(assetsListCmd, assetsInspectCmd, assetsImportCmd,
		assetsBackupCmd, assetsCleanCmd, assetsOptimizeCmd, assetsRefsCmd)

	assetsFlags = AddOutputFlags(assetsListCmd)
	assetsListCmd.Flags().BoolVarP(&assetsDetail, "detail", "d", false, "Inspect every asset")

	inspectFlags = AddOutputFlags(assetsInspectCmd)
	importFlags = AddOutputFlags(assetsImportCmd)
	backupFlags = AddOutputFlags(assetsBackupCmd)

	cleanFlags = AddOutputFlags(assetsCleanCmd)
	assetsCleanCmd.Flags().BoolVar(&cleanKeepRefs, "keep-referenced", false, "Keep edited copies the site documents use")

	optimizeFlags = AddOutputFlags(assetsOptimizeCmd)
	assetsOptimizeCmd.Flags().IntVar(&optimizeQuality, "quality", 0, "JPEG quality 1-100 (default from config)")

	refsFlags = AddOutputFlags(assetsRefsCmd)
	assetsRefsCmd.Flags().BoolVar(&refsOnlyUnused, "unused", false, "Only list assets no document uses")
}

// warnCollected prints per-file failures of a batch to stderr.
func warnCollected(cmd *cobra.Command, collector *siteerrors.ErrorCollector) {
	if collector == nil {
		return
	}
	for _, fe := range collector.GetErrors() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %s\n", fe.File, siteerrors.Describe(fe.Err))
	}
}

func runAssetsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.store()
	if err != nil {
		return err
	}

	if !assetsDetail {
		names, err := store.List()
		if err != nil {
			return err
		}
		return render(cmd, assetsFlags, names, func(w io.Writer) {
			if len(names) == 0 {
				fmt.Fprintf(w, "No assets in %s\n", store.Dir())
				return
			}
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
		})
	}

	list, collector, err := store.InspectAll()
	if err != nil {
		return err
	}
	warnCollected(cmd, collector)
	return render(cmd, assetsFlags, list, func(w io.Writer) { assetTable(w, list) })
}

func assetTable(w io.Writer, list []assets.Asset) {
	fmt.Fprintln(w, "NAME\tFORMAT\tSIZE\tMODE\tMB")
	for _, a := range list {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%.2f\n", a.Filename, a.Format, a.Width, a.Height, a.ColorMode, a.SizeMB())
	}
}

func runAssetsInspect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.store()
	if err != nil {
		return err
	}

	list := make([]assets.Asset, 0, len(args))
	for _, name := range args {
		info, err := store.Inspect(name)
		if err != nil {
			return err
		}
		list = append(list, info)
	}
	return render(cmd, inspectFlags, list, func(w io.Writer) { assetTable(w, list) })
}

func runAssetsImport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.store()
	if err != nil {
		return err
	}

	imported, importErr := store.Import(cmd.Context(), args)
	if err := render(cmd, importFlags, imported, func(w io.Writer) {
		fmt.Fprintf(w, "Imported %d of %d file(s) into %s\n", len(imported), len(args), store.Dir())
		for _, name := range imported {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}); err != nil {
		return err
	}
	return importErr
}

func runAssetsBackup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.store()
	if err != nil {
		return err
	}

	dest := filepath.Dir(store.Layout().Root)
	if len(args) == 1 {
		dest = args[0]
	}
	target, err := store.Backup(cmd.Context(), dest, backupClock())
	if err != nil {
		return err
	}
	return render(cmd, backupFlags, map[string]string{"backup": target}, func(w io.Writer) {
		fmt.Fprintf(w, "Backed up %s to %s\n", store.Dir(), target)
	})
}

func runAssetsClean(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.store()
	if err != nil {
		return err
	}

	var keep map[string]bool
	if cleanKeepRefs {
		refs, err := store.References(cmd.Context())
		if err != nil {
			return err
		}
		keep = refs.Referenced()
	}

	report, cleanErr := store.CleanDerived(cmd.Context(), keep)
	if err := render(cmd, cleanFlags, report, func(w io.Writer) {
		fmt.Fprintf(w, "Deleted %d edited cop(ies)\n", len(report.Deleted))
		for _, name := range report.Deleted {
			fmt.Fprintf(w, "  - %s\n", name)
		}
		for _, name := range report.Kept {
			fmt.Fprintf(w, "  kept %s (referenced)\n", name)
		}
	}); err != nil {
		return err
	}
	return cleanErr
}

func runAssetsOptimize(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	quality := optimizeQuality
	if quality == 0 {
		quality = a.cfg.Transform.OptimizeQuality
	}
	if quality < 1 || quality > 100 {
		return siteerrors.NewBoundsError("QUALITY", fmt.Sprintf("quality %d is not in range 1-100", quality))
	}

	store, err := a.store()
	if err != nil {
		return err
	}

	report, optErr := store.Optimize(cmd.Context(), quality)
	if err := render(cmd, optimizeFlags, report, func(w io.Writer) {
		fmt.Fprintf(w, "Optimized %d asset(s), skipped %d\n", len(report.Optimized), len(report.Skipped))
		if report.BytesBefore > 0 {
			saved := report.BytesBefore - report.BytesAfter
			fmt.Fprintf(w, "Saved %d bytes (%.1f%%)\n", saved, float64(saved)*100/float64(report.BytesBefore))
		}
	}); err != nil {
		return err
	}
	return optErr
}

// refRow is one asset and the documents that use it.
type refRow struct {
	Asset     string   `json:"asset" yaml:"asset"`
	Documents []string `json:"documents" yaml:"documents"`
}

func runAssetsRefs(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.store()
	if err != nil {
		return err
	}
	refs, err := store.References(cmd.Context())
	if err != nil {
		return err
	}
	names, err := store.List()
	if err != nil {
		return err
	}

	rows := make([]refRow, 0, len(names))
	for _, name := range names {
		docs := refs[name]
		if refsOnlyUnused && len(docs) > 0 {
			continue
		}
		if docs == nil {
			docs = []string{}
		}
		sort.Strings(docs)
		rows = append(rows, refRow{Asset: name, Documents: docs})
	}

	return render(cmd, refsFlags, rows, func(w io.Writer) {
		fmt.Fprintln(w, "ASSET\tUSED BY")
		for _, r := range rows {
			used := strings.Join(r.Documents, ", ")
			if used == "" {
				used = "-"
			}
			fmt.Fprintf(w, "%s\t%s\n", r.Asset, used)
		}
	})
}
