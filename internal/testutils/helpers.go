package testutils

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/sitedesk/sitedesk/internal/config"
)

// Standard site documents written into every temp project.
const (
	IndexHTML = `<!DOCTYPE html>
<html>
<head><link rel="stylesheet" href="style.css"></head>
<body>
  <img src="images/logo.png" alt="logo">
  <div style="background-image: url('images/banner.jpg')"></div>
</body>
</html>
`
	MainHTML = `<!DOCTYPE html>
<html><body><img src="/images/hero.webp"></body></html>
`
	AppPy = `import os
from flask import Flask
app = Flask(__name__)
if __name__ == "__main__":
    app.run(port=int(os.environ.get("PORT", 5000)))
`
)

// CreateTempProject creates a qualifying project root with an empty images
// directory and returns the root path.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	return CreateProjectAt(t, t.TempDir())
}

// CreateProjectAt writes the marker files and asset directory under root.
func CreateProjectAt(t *testing.T, root string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "images"), 0o755))

	files := map[string]string{
		"app.py":     AppPy,
		"index.html": IndexHTML,
		"main.html":  MainHTML,
		"style.css":  "body { margin: 0; }\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}

	return root
}

// CreateTestConfig creates a configuration pinned to projectDir.
func CreateTestConfig(projectDir string) *config.Config {
	cfg := config.Default()
	cfg.Project.Path = projectDir
	cfg.Server.Port = 5000
	cfg.Server.StopGrace = 2 * time.Second
	cfg.Server.StartupGrace = 2 * time.Second
	cfg.Monitor.Interval = 50 * time.Millisecond
	cfg.Monitor.ProbeTimeout = 200 * time.Millisecond
	cfg.API.Enabled = false
	return cfg
}

// NewSolidImage returns a w×h image filled with c.
func NewSolidImage(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// NewGradientImage returns a w×h image whose pixels all differ, so flips and
// rotations are observable.
func NewGradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

// NewHalfTransparentImage returns a w×h image whose left half is opaque red
// and right half fully transparent.
func NewHalfTransparentImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{})
			}
		}
	}
	return img
}

// WriteImage encodes img into dir/name using the extension's format.
func WriteImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

// CreateTestImage writes a gradient image of the given size.
func CreateTestImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	return WriteImage(t, dir, name, NewGradientImage(w, h))
}

// LoadImage decodes the image at path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err)
	return img
}

// AssertImageSize checks the pixel dimensions of the image at path.
func AssertImageSize(t *testing.T, path string, w, h int) {
	t.Helper()
	bounds := LoadImage(t, path).Bounds()
	require.Equal(t, w, bounds.Dx(), "width of %s", path)
	require.Equal(t, h, bounds.Dy(), "height of %s", path)
}

// AssertSamePixels checks two images are pixel-identical in NRGBA space.
func AssertSamePixels(t *testing.T, want, got image.Image) {
	t.Helper()
	a := imaging.Clone(want)
	b := imaging.Clone(got)
	require.Equal(t, a.Bounds().Size(), b.Bounds().Size(), "image sizes differ")
	require.Equal(t, a.Pix, b.Pix, "pixels differ")
}

// ListDir returns the names in dir.
func ListDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// WaitForCondition polls cond until it holds or timeout elapses.
func WaitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v", timeout)
}

// WaitForFileChange waits for a file to be modified (useful for testing file watchers)
func WaitForFileChange(
	t *testing.T,
	filePath string,
	originalModTime time.Time,
	timeout time.Duration,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		info, err := os.Stat(filePath)
		if err == nil && info.ModTime().After(originalModTime) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("File %s was not modified within %v", filePath, timeout)
}
