// Package project finds the static-site project that sitedesk edits and
// serves.
//
// A directory qualifies as a project root when every marker file exists in it
// (the server entrypoint plus the site documents) and one of the configured
// asset directories exists beneath it. The locator tries the working
// directory, then the directory holding the running executable, then every
// subdirectory of the user's desktop folder under each localized spelling.
package project

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sitedesk/sitedesk/internal/config"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
)

// Layout is an immutable description of a located project.
type Layout struct {
	Root      string `json:"root" yaml:"root"`
	AssetsDir string `json:"assets_dir" yaml:"assets_dir"`
}

// AssetPath joins name onto the asset directory.
func (l Layout) AssetPath(name string) string {
	return filepath.Join(l.AssetsDir, name)
}

// Options configures a Locator.
type Options struct {
	// Explicit short-circuits the search when set.
	Explicit    string
	Markers     []string
	AssetDirs   []string
	DesktopDirs []string

	WorkingDir func() (string, error)
	Executable func() (string, error)
	HomeDir    func() (string, error)
}

// OptionsFromConfig builds locator options from the project config section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Explicit:    cfg.Project.Path,
		Markers:     cfg.Markers(),
		AssetDirs:   cfg.Project.AssetDirs,
		DesktopDirs: cfg.Project.DesktopDirs,
	}
}

// Locator searches the filesystem for a project root.
type Locator struct {
	opts   Options
	logger logging.Logger
}

// NewLocator creates a locator. Nil hooks fall back to the os package.
func NewLocator(opts Options, logger logging.Logger) *Locator {
	if opts.WorkingDir == nil {
		opts.WorkingDir = os.Getwd
	}
	if opts.Executable == nil {
		opts.Executable = os.Executable
	}
	if opts.HomeDir == nil {
		opts.HomeDir = os.UserHomeDir
	}
	if len(opts.AssetDirs) == 0 {
		opts.AssetDirs = config.DefaultAssetDirs
	}
	if len(opts.DesktopDirs) == 0 {
		opts.DesktopDirs = config.DefaultDesktopDirs
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Locator{opts: opts, logger: logger.WithComponent("project")}
}

// Locate returns the first qualifying directory in search order.
func (l *Locator) Locate() (Layout, error) {
	ctx := context.Background()

	if l.opts.Explicit != "" {
		root, err := filepath.Abs(l.opts.Explicit)
		if err != nil {
			return Layout{}, siteerrors.NewIOError("PROJECT_PATH", "cannot resolve project path", err)
		}
		if layout, ok := l.Qualify(root); ok {
			return layout, nil
		}
		return Layout{}, siteerrors.NewNotFoundError("PROJECT_INVALID",
			"configured project path is missing marker files or an asset directory").WithPath(root)
	}

	for _, dir := range l.Candidates() {
		if layout, ok := l.Qualify(dir); ok {
			l.logger.Debug(ctx, "Project located", "root", layout.Root, "assets", layout.AssetsDir)
			return layout, nil
		}
	}

	return Layout{}, siteerrors.NewNotFoundError("NO_PROJECT", "no project located")
}

// Candidates lists directories in the order Locate checks them.
func (l *Locator) Candidates() []string {
	var candidates []string
	seen := make(map[string]bool)
	add := func(dir string) {
		if dir == "" {
			return
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			return
		}
		seen[dir] = true
		candidates = append(candidates, dir)
	}

	if wd, err := l.opts.WorkingDir(); err == nil {
		add(wd)
	}
	if exe, err := l.opts.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		add(filepath.Dir(exe))
	}

	for _, desktop := range l.desktopDirs() {
		entries, err := os.ReadDir(desktop)
		if err != nil {
			continue
		}
		// ReadDir sorts by name.
		for _, entry := range entries {
			if entry.IsDir() {
				add(filepath.Join(desktop, entry.Name()))
			}
		}
	}

	return candidates
}

// Qualify reports whether dir holds every marker file and an asset directory.
func (l *Locator) Qualify(dir string) (Layout, bool) {
	for _, marker := range l.opts.Markers {
		info, err := os.Stat(filepath.Join(dir, marker))
		if err != nil || info.IsDir() {
			return Layout{}, false
		}
	}

	assets, ok := l.findAssetDir(dir)
	if !ok {
		return Layout{}, false
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		root = dir
	}
	return Layout{Root: root, AssetsDir: filepath.Join(root, assets)}, true
}

func (l *Locator) findAssetDir(root string) (string, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}
	for _, want := range l.opts.AssetDirs {
		for _, entry := range entries {
			if entry.IsDir() && sameName(entry.Name(), want) {
				return entry.Name(), true
			}
		}
	}
	return "", false
}

// desktopDirs returns existing desktop-like directories, the XDG desktop
// first when the user has one configured.
func (l *Locator) desktopDirs() []string {
	home, err := l.opts.HomeDir()
	if err != nil || home == "" {
		return nil
	}

	var dirs []string
	seen := make(map[string]bool)
	add := func(dir string) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	if xdg := xdgDesktopDir(home); xdg != "" {
		add(xdg)
	}

	for _, parent := range []string{home, filepath.Join(home, "OneDrive")} {
		entries, err := os.ReadDir(parent)
		if err != nil {
			continue
		}
		for _, variant := range l.opts.DesktopDirs {
			for _, entry := range entries {
				if entry.IsDir() && sameName(entry.Name(), variant) {
					add(filepath.Join(parent, entry.Name()))
				}
			}
		}
	}

	return dirs
}

// sameName compares directory names after NFC normalization, ignoring case.
// macOS stores decomposed names, so a byte comparison misses localized
// spellings.
func sameName(a, b string) bool {
	return strings.EqualFold(norm.NFC.String(a), norm.NFC.String(b))
}

// xdgDesktopDir reads XDG_DESKTOP_DIR from user-dirs.dirs.
func xdgDesktopDir(home string) string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	f, err := os.Open(filepath.Join(configHome, "user-dirs.dirs"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, "XDG_DESKTOP_DIR=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		value = strings.Replace(value, "$HOME", home, 1)
		if !filepath.IsAbs(value) {
			return ""
		}
		return filepath.Clean(value)
	}
	return ""
}
