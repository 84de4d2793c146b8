// Package assets is the filesystem view of a project's image directory.
//
// Every call re-reads the disk. There is no cache: the directory is small and
// is mutated by the transform engine, the watcher's external editors, and the
// user, so the filesystem is the only source of truth.
package assets

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
	"github.com/sitedesk/sitedesk/internal/project"
)

// Asset describes one image file. Values are recomputed per request.
type Asset struct {
	Filename  string `json:"filename" yaml:"filename"`
	Format    string `json:"format" yaml:"format"`
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	ColorMode string `json:"color_mode" yaml:"color_mode"`
	ByteSize  int64  `json:"byte_size" yaml:"byte_size"`
}

// SizeMB returns the file size in megabytes rounded to two places.
func (a Asset) SizeMB() float64 {
	return float64(int64(float64(a.ByteSize)/(1024*1024)*100+0.5)) / 100
}

// Store lists and inspects the assets of one project.
type Store struct {
	layout    project.Layout
	documents []string
	logger    logging.Logger
}

// NewStore creates a store over layout. documents are the site pages scanned
// for references, relative to the project root.
func NewStore(layout project.Layout, documents []string, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		layout:    layout,
		documents: documents,
		logger:    logger.WithComponent("assets"),
	}
}

// Layout returns the project layout the store reads from.
func (s *Store) Layout() project.Layout {
	return s.layout
}

// Dir returns the asset directory.
func (s *Store) Dir() string {
	return s.layout.AssetsDir
}

// List returns image filenames sorted lexicographically.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.layout.AssetsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, siteerrors.NewNotFoundError("ASSETS_DIR", "asset directory not found").WithPath(s.layout.AssetsDir)
		}
		return nil, siteerrors.NewIOError("ASSETS_DIR", "cannot read asset directory", err).WithPath(s.layout.AssetsDir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsImageName(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Path resolves name inside the asset directory. Names that are empty or
// reach outside the directory are NotFound.
func (s *Store) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.layout.AssetsDir, name), nil
}

// ValidateName rejects names that are not a single path element.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return siteerrors.NewNotFoundError("INVALID_NAME", fmt.Sprintf("asset %q not found", name))
	}
	return nil
}

// Inspect reads metadata for name from disk.
func (s *Store) Inspect(name string) (Asset, error) {
	path, err := s.Path(name)
	if err != nil {
		return Asset{}, err
	}
	if !IsImageName(name) {
		return Asset{}, siteerrors.NewNotFoundError("NOT_AN_IMAGE", fmt.Sprintf("%q is not an image asset", name))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Asset{}, siteerrors.NewNotFoundError("ASSET_NOT_FOUND", fmt.Sprintf("asset %q not found", name))
		}
		return Asset{}, siteerrors.NewIOError("ASSET_STAT", "cannot stat asset", err).WithPath(name)
	}
	if info.IsDir() {
		return Asset{}, siteerrors.NewNotFoundError("ASSET_NOT_FOUND", fmt.Sprintf("asset %q not found", name))
	}

	f, err := os.Open(path)
	if err != nil {
		return Asset{}, siteerrors.NewIOError("ASSET_OPEN", "cannot open asset", err).WithPath(name)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Asset{}, siteerrors.NewDecodeError("DECODE", "cannot decode image", err).WithPath(name)
	}

	return Asset{
		Filename:  name,
		Format:    strings.ToUpper(format),
		Width:     cfg.Width,
		Height:    cfg.Height,
		ColorMode: ColorMode(cfg.ColorModel),
		ByteSize:  info.Size(),
	}, nil
}

// InspectAll inspects every listed asset. Unreadable files are reported in
// the returned collector rather than aborting the listing.
func (s *Store) InspectAll() ([]Asset, *siteerrors.ErrorCollector, error) {
	names, err := s.List()
	if err != nil {
		return nil, nil, err
	}

	collector := siteerrors.NewErrorCollector()
	out := make([]Asset, 0, len(names))
	for _, name := range names {
		asset, err := s.Inspect(name)
		if err != nil {
			collector.Add(name, err)
			continue
		}
		out = append(out, asset)
	}
	return out, collector, nil
}
