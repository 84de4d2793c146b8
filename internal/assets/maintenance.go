package assets

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

// DerivedTags are the filename markers left by edit operations. A file whose
// name contains any of them is derived output and safe to clean.
var DerivedTags = []string{
	"_modified",
	"_resized",
	"_bright",
	"_contrast",
	"_blur",
	"_sharp",
	"_rotated",
	"_cropped",
	"_flipped",
	"_converted",
}

// IsDerivedName reports whether name carries a derived-output tag.
func IsDerivedName(name string) bool {
	for _, tag := range DerivedTags {
		if strings.Contains(name, tag) {
			return true
		}
	}
	return false
}

// Import copies image files into the asset directory, replacing same-named
// assets. Each file is handled independently; failures are collected.
func (s *Store) Import(ctx context.Context, sources []string) ([]string, error) {
	collector := siteerrors.NewErrorCollector()
	imported := make([]string, 0, len(sources))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		name := filepath.Base(src)
		if !IsImageName(name) {
			collector.Add(src, siteerrors.NewFormatError("NOT_AN_IMAGE", fmt.Sprintf("%q is not a supported image type", name)))
			continue
		}
		if err := s.importOne(src, name); err != nil {
			collector.Add(src, err)
			continue
		}
		imported = append(imported, name)
		s.logger.Info(ctx, "Imported asset", "source", src, "asset", name)
	}

	return imported, collector.Err()
}

func (s *Store) importOne(src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return siteerrors.NewNotFoundError("IMPORT_SOURCE", "source file not found").WithPath(src)
		}
		return siteerrors.NewIOError("IMPORT_OPEN", "cannot open source", err).WithPath(src)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return siteerrors.NewIOError("IMPORT_STAT", "cannot stat source", err).WithPath(src)
	}
	if info.IsDir() {
		return siteerrors.NewFormatError("NOT_AN_IMAGE", "source is a directory").WithPath(src)
	}

	dest := filepath.Join(s.layout.AssetsDir, name)
	err = WriteFileAtomic(dest, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
	if err != nil {
		return siteerrors.NewIOError("IMPORT_WRITE", "cannot copy into asset directory", err).WithPath(name)
	}
	// Keep the source timestamp, like a plain file copy that preserves metadata.
	_ = os.Chtimes(dest, info.ModTime(), info.ModTime())
	return nil
}

// BackupPrefix names backup folders: sitedesk_images_backup_YYYYMMDD_HHMMSS.
const BackupPrefix = "sitedesk_images_backup_"

// Backup copies the whole asset directory into a new timestamped folder
// under destRoot and returns the folder path.
func (s *Store) Backup(ctx context.Context, destRoot string, now time.Time) (string, error) {
	info, err := os.Stat(destRoot)
	if err != nil || !info.IsDir() {
		return "", siteerrors.NewNotFoundError("BACKUP_DEST", "backup destination is not a directory").WithPath(destRoot)
	}

	target := filepath.Join(destRoot, BackupPrefix+now.Format("20060102_150405"))
	if _, err := os.Stat(target); err == nil {
		return "", siteerrors.NewIOError("BACKUP_EXISTS", "backup folder already exists", os.ErrExist).WithPath(target)
	}

	err = filepath.WalkDir(s.layout.AssetsDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.layout.AssetsDir, path)
		if err != nil {
			return err
		}
		out := filepath.Join(target, rel)
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}
		if !d.Type().IsRegular() || IsTempName(d.Name()) {
			return nil
		}
		return copyFile(path, out)
	})
	if err != nil {
		os.RemoveAll(target)
		return "", siteerrors.NewIOError("BACKUP_COPY", "backup failed", err).WithPath(target)
	}

	s.logger.Info(ctx, "Backed up assets", "destination", target)
	return target, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// CleanReport lists what CleanDerived did.
type CleanReport struct {
	Deleted []string `json:"deleted" yaml:"deleted"`
	Kept    []string `json:"kept" yaml:"kept"`
}

// CleanDerived deletes derived outputs from the asset directory. Names in
// keep survive even when derived.
func (s *Store) CleanDerived(ctx context.Context, keep map[string]bool) (CleanReport, error) {
	names, err := s.List()
	if err != nil {
		return CleanReport{}, err
	}

	collector := siteerrors.NewErrorCollector()
	report := CleanReport{Deleted: []string{}, Kept: []string{}}
	for _, name := range names {
		if !IsDerivedName(name) {
			continue
		}
		if keep[name] {
			report.Kept = append(report.Kept, name)
			continue
		}
		if err := os.Remove(filepath.Join(s.layout.AssetsDir, name)); err != nil {
			collector.Add(name, siteerrors.NewIOError("CLEAN_REMOVE", "cannot remove derived asset", err))
			continue
		}
		report.Deleted = append(report.Deleted, name)
	}

	s.logger.Info(ctx, "Cleaned derived assets", "deleted", len(report.Deleted), "kept", len(report.Kept))
	return report, collector.Err()
}

// OptimizeReport lists what Optimize did.
type OptimizeReport struct {
	Optimized   []string `json:"optimized" yaml:"optimized"`
	Skipped     []string `json:"skipped" yaml:"skipped"`
	BytesBefore int64    `json:"bytes_before" yaml:"bytes_before"`
	BytesAfter  int64    `json:"bytes_after" yaml:"bytes_after"`
}

// Optimize re-encodes JPEG assets at quality and PNG assets with best
// compression, in place and atomically. An asset is only replaced when the
// new encoding is smaller; other formats are skipped. Per-file failures are
// collected and never stop the batch.
func (s *Store) Optimize(ctx context.Context, quality int) (OptimizeReport, error) {
	names, err := s.List()
	if err != nil {
		return OptimizeReport{}, err
	}

	collector := siteerrors.NewErrorCollector()
	report := OptimizeReport{Optimized: []string{}, Skipped: []string{}}
	opts := EncodeOptions{JPEGQuality: quality, PNGCompression: png.BestCompression}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		format, _ := FormatFromName(name)
		if format != FormatJPEG && format != FormatPNG {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		path := filepath.Join(s.layout.AssetsDir, name)
		info, err := os.Stat(path)
		if err != nil {
			collector.Add(name, siteerrors.NewIOError("OPTIMIZE_STAT", "cannot stat asset", err))
			continue
		}

		img, err := Decode(path)
		if err != nil {
			collector.Add(name, err)
			continue
		}

		var buf bytes.Buffer
		if err := Encode(&buf, img, format, opts); err != nil {
			collector.Add(name, err)
			continue
		}

		report.BytesBefore += info.Size()
		if int64(buf.Len()) >= info.Size() {
			report.BytesAfter += info.Size()
			report.Skipped = append(report.Skipped, name)
			continue
		}

		err = WriteFileAtomic(path, info.Mode().Perm(), func(w io.Writer) error {
			_, err := w.Write(buf.Bytes())
			return err
		})
		if err != nil {
			report.BytesAfter += info.Size()
			collector.Add(name, siteerrors.NewIOError("OPTIMIZE_WRITE", "cannot write optimized asset", err))
			continue
		}
		report.BytesAfter += int64(buf.Len())
		report.Optimized = append(report.Optimized, name)
	}

	s.logger.Info(ctx, "Optimized assets",
		"optimized", len(report.Optimized),
		"skipped", len(report.Skipped),
		"saved_bytes", report.BytesBefore-report.BytesAfter)
	return report, collector.Err()
}
