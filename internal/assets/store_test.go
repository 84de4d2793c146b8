package assets

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/project"
	"github.com/sitedesk/sitedesk/internal/testutils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := testutils.CreateTempProject(t)
	layout := project.Layout{Root: root, AssetsDir: filepath.Join(root, "images")}
	return NewStore(layout, []string{"index.html", "main.html"}, nil)
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	dir := store.Dir()

	testutils.CreateTestImage(t, dir, "logo.png", 4, 4)
	testutils.CreateTestImage(t, dir, "Banner.JPG", 4, 4)
	for _, name := range []string{"b.JpEg", "anim.gif", "x.bmp", "hero.webp", "notes.txt", "README", ".sitedesk-123.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.png"), 0o755))

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Banner.JPG", "anim.gif", "b.JpEg", "hero.webp", "logo.png", "x.bmp"}, names)
}

func TestListEmpty(t *testing.T) {
	names, err := newTestStore(t).List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListMissingDirectory(t *testing.T) {
	store := NewStore(project.Layout{Root: t.TempDir(), AssetsDir: filepath.Join(t.TempDir(), "gone")}, nil, nil)
	_, err := store.List()
	assert.True(t, errors.Is(err, siteerrors.ErrNotFound))
}

func TestInspect(t *testing.T) {
	store := newTestStore(t)
	dir := store.Dir()

	testutils.CreateTestImage(t, dir, "logo.png", 300, 200)
	testutils.WriteImage(t, dir, "photo.jpg", testutils.NewSolidImage(40, 30, color.NRGBA{R: 10, G: 200, B: 30, A: 255}))
	testutils.WriteImage(t, dir, "gray.png", image.NewGray(image.Rect(0, 0, 8, 6)))
	testutils.WriteImage(t, dir, "anim.gif", testutils.NewSolidImage(5, 5, color.White))

	tests := []struct {
		name   string
		format string
		w, h   int
		mode   string
	}{
		{"logo.png", FormatPNG, 300, 200, "RGBA"},
		{"photo.jpg", FormatJPEG, 40, 30, "RGB"},
		{"gray.png", FormatPNG, 8, 6, "L"},
		{"anim.gif", FormatGIF, 5, 5, "P"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, err := store.Inspect(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, asset.Filename)
			assert.Equal(t, tt.format, asset.Format)
			assert.Equal(t, tt.w, asset.Width)
			assert.Equal(t, tt.h, asset.Height)
			assert.Equal(t, tt.mode, asset.ColorMode)

			info, err := os.Stat(filepath.Join(dir, tt.name))
			require.NoError(t, err)
			assert.Equal(t, info.Size(), asset.ByteSize)
		})
	}
}

func TestInspectErrors(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken.png"), []byte("not a png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("text"), 0o644))

	_, err := store.Inspect("missing.png")
	assert.True(t, errors.Is(err, siteerrors.ErrNotFound))

	_, err = store.Inspect("broken.png")
	assert.True(t, errors.Is(err, siteerrors.ErrDecodeFailed))

	_, err = store.Inspect("notes.txt")
	assert.True(t, errors.Is(err, siteerrors.ErrNotFound))

	for _, bad := range []string{"", "..", "../index.html", "a/b.png", `a\b.png`} {
		_, err = store.Inspect(bad)
		assert.True(t, errors.Is(err, siteerrors.ErrNotFound), bad)
	}
}

func TestInspectRereadsDisk(t *testing.T) {
	store := newTestStore(t)
	testutils.CreateTestImage(t, store.Dir(), "logo.png", 10, 10)

	first, err := store.Inspect("logo.png")
	require.NoError(t, err)
	assert.Equal(t, 10, first.Width)

	testutils.CreateTestImage(t, store.Dir(), "logo.png", 20, 5)
	second, err := store.Inspect("logo.png")
	require.NoError(t, err)
	assert.Equal(t, 20, second.Width)
	assert.Equal(t, 5, second.Height)
}

func TestInspectAll(t *testing.T) {
	store := newTestStore(t)
	testutils.CreateTestImage(t, store.Dir(), "a.png", 2, 2)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "b.png"), []byte("junk"), 0o644))

	all, collector, err := store.InspectAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a.png", all[0].Filename)
	assert.Equal(t, 1, collector.Len())
}

func TestAssetSizeMB(t *testing.T) {
	assert.Equal(t, 1.5, Asset{ByteSize: 1536 * 1024}.SizeMB())
	assert.Equal(t, 0.0, Asset{ByteSize: 10}.SizeMB())
}

func TestCodecHelpers(t *testing.T) {
	assert.True(t, IsImageName("LOGO.PNG"))
	assert.True(t, IsImageName("a.webp"))
	assert.False(t, IsImageName("a.tiff"))
	assert.False(t, IsImageName("png"))

	format, ok := FormatFromName("jpeg")
	assert.True(t, ok)
	assert.Equal(t, FormatJPEG, format)

	ext, ok := ExtensionFor("jpeg")
	assert.True(t, ok)
	assert.Equal(t, ".jpg", ext)
	_, ok = ExtensionFor("psd")
	assert.False(t, ok)

	assert.False(t, SupportsAlpha("jpeg"))
	assert.False(t, SupportsAlpha("BMP"))
	assert.True(t, SupportsAlpha("png"))
}

func TestEncodeWebPUnsupported(t *testing.T) {
	err := Encode(io.Discard, testutils.NewSolidImage(2, 2, color.White), FormatWEBP, DefaultEncodeOptions())
	assert.True(t, errors.Is(err, siteerrors.ErrUnsupportedFormat))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("encoder failed")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.Equal(t, []string{"out.png"}, testutils.ListDir(t, dir))

	require.NoError(t, WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write([]byte("new"))
		return err
	}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestIsTempName(t *testing.T) {
	assert.True(t, IsTempName(".sitedesk-4821.tmp"))
	assert.False(t, IsTempName("logo.png"))
}

func TestImport(t *testing.T) {
	store := newTestStore(t)
	src := t.TempDir()
	good := testutils.CreateTestImage(t, src, "new.png", 6, 6)
	text := filepath.Join(src, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("x"), 0o644))
	missing := filepath.Join(src, "gone.jpg")

	imported, err := store.Import(context.Background(), []string{good, text, missing})
	assert.Equal(t, []string{"new.png"}, imported)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 file(s) failed")

	testutils.AssertImageSize(t, filepath.Join(store.Dir(), "new.png"), 6, 6)
}

func TestBackup(t *testing.T) {
	store := newTestStore(t)
	testutils.CreateTestImage(t, store.Dir(), "logo.png", 3, 3)
	dest := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	folder, err := store.Backup(context.Background(), dest, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "sitedesk_images_backup_20240309_140507"), folder)
	testutils.AssertImageSize(t, filepath.Join(folder, "logo.png"), 3, 3)

	_, err = store.Backup(context.Background(), dest, now)
	assert.Error(t, err, "same-second backup must not overwrite")

	_, err = store.Backup(context.Background(), filepath.Join(dest, "nope"), now)
	assert.True(t, errors.Is(err, siteerrors.ErrNotFound))
}

func TestCleanDerived(t *testing.T) {
	store := newTestStore(t)
	dir := store.Dir()
	for _, name := range []string{
		"logo.png",
		"logo_resized_150x100.png",
		"logo_bright_1.5.png",
		"logo_flipped_h.png",
		"logo_cropped.png",
		"logo_modified.png",
		"banner_converted.jpg",
	} {
		testutils.CreateTestImage(t, dir, name, 2, 2)
	}

	report, err := store.CleanDerived(context.Background(), map[string]bool{"banner_converted.jpg": true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"logo_resized_150x100.png",
		"logo_bright_1.5.png",
		"logo_flipped_h.png",
		"logo_cropped.png",
		"logo_modified.png",
	}, report.Deleted)
	assert.Equal(t, []string{"banner_converted.jpg"}, report.Kept)

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"banner_converted.jpg", "logo.png"}, names)
}

func TestOptimize(t *testing.T) {
	store := newTestStore(t)
	dir := store.Dir()
	testutils.CreateTestImage(t, dir, "a.png", 64, 64)
	testutils.WriteImage(t, dir, "b.jpg", testutils.NewGradientImage(64, 64))
	testutils.WriteImage(t, dir, "c.gif", testutils.NewSolidImage(4, 4, color.White))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.png"), []byte("corrupt"), 0o644))

	report, err := store.Optimize(context.Background(), 85)
	require.Error(t, err)
	assert.True(t, errors.Is(err, siteerrors.ErrDecodeFailed) || siteerrors.IsKind(err, siteerrors.KindIO))
	assert.Contains(t, err.Error(), "d.png")
	assert.Contains(t, report.Skipped, "c.gif")
	assert.LessOrEqual(t, report.BytesAfter, report.BytesBefore)

	testutils.AssertImageSize(t, filepath.Join(dir, "a.png"), 64, 64)
	testutils.AssertImageSize(t, filepath.Join(dir, "b.jpg"), 64, 64)
	for _, name := range testutils.ListDir(t, dir) {
		assert.False(t, IsTempName(name), "leftover temp file %s", name)
	}
}

func TestReferences(t *testing.T) {
	store := newTestStore(t)
	dir := store.Dir()
	testutils.CreateTestImage(t, dir, "logo.png", 2, 2)
	testutils.CreateTestImage(t, dir, "banner.jpg", 2, 2)
	testutils.CreateTestImage(t, dir, "unused.png", 2, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hero.webp"), []byte("x"), 0o644))
	testutils.CreateTestImage(t, dir, "bg.png", 2, 2)
	require.NoError(t, os.WriteFile(filepath.Join(store.Layout().Root, "style.css"),
		[]byte(`body { background: url("images/bg.png") }`), 0o644))

	refs, err := store.References(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"index.html"}, refs["logo.png"])
	assert.Equal(t, []string{"index.html"}, refs["banner.jpg"])
	assert.Equal(t, []string{"main.html"}, refs["hero.webp"])
	assert.Equal(t, []string{"style.css"}, refs["bg.png"])
	assert.NotContains(t, refs, "unused.png")

	referenced := refs.Referenced()
	assert.True(t, referenced["logo.png"])
	assert.False(t, referenced["unused.png"])
}

func TestAssetNameFromURL(t *testing.T) {
	tests := map[string]string{
		"images/logo.png":              "logo.png",
		"/images/logo.png?v=2":         "logo.png",
		"./img/a%20b.png":              "a b.png",
		"https://cdn.example/logo.png": "",
		"data:image/png;base64,AAAA":   "",
		"":                             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, assetNameFromURL(in), in)
	}
}

func TestIsDerivedName(t *testing.T) {
	assert.True(t, IsDerivedName("a_sharp.png"))
	assert.True(t, IsDerivedName("a_rotated_-45.png"))
	assert.False(t, IsDerivedName("a.png"))
}
