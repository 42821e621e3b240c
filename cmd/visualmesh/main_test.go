package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

// writeDataset lays out n 32x24 records whose masks are half ball, half field,
// with a single stray pixel that matches no class.
func writeDataset(t *testing.T, dir string, n int) {
	t.Helper()
	for i := range n {
		img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
		mask := image.NewNRGBA(image.Rect(0, 0, 32, 24))
		for y := range 24 {
			for x := range 32 {
				img.SetNRGBA(x, y, color.NRGBA{R: uint8(8 * x), G: uint8(10 * y), B: 90, A: 255})
				if x < 16 {
					mask.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
				} else {
					mask.SetNRGBA(x, y, color.NRGBA{G: 255, A: 255})
				}
			}
		}
		mask.SetNRGBA(0, 0, color.NRGBA{B: 255, A: 255})
		name := fmt.Sprintf("%04d", i)
		writePNG(t, filepath.Join(dir, name+".png"), img)
		writePNG(t, filepath.Join(dir, name+"_mask.png"), mask)
		sidecar := fmt.Sprintf(`image: %[1]s.png
mask: %[1]s_mask.png
lens: {projection: RECTILINEAR, focal_length: 40, fov: 1.5}
mesh: {height: 1.2, orientation: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]}
`, name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(sidecar), 0o600))
	}
}

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	body := fmt.Sprintf(`
logger:
  level: warn
  format: json
dataset:
  classes:
    - {name: ball, colour: [255, 0, 0]}
    - {name: field, colour: [0, 255, 0]}
  geometry: {shape: SPHERE, radius: 0.1, intersections: 2, max_distance: 1}
  batch_size: 2
  shuffle_size: 4
  workers: 2
  seed: 5
  variants:
    image:
      brightness: {mean: 0, stddev: 0.02}
network:
  groups: [[6], [2]]
source:
  kind: dir
  dir: %s
`, dataDir)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	data := t.TempDir()
	writeDataset(t, data, 3)
	_, err := execute(t, "--config", writeConfig(t, data), "run")
	require.NoError(t, err)

	_, err = execute(t, "--config", writeConfig(t, data), "run", "--batches", "1")
	require.NoError(t, err)
}

func TestInspectCommand(t *testing.T) {
	data := t.TempDir()
	writeDataset(t, data, 2)
	swatch := filepath.Join(t.TempDir(), "palette.png")
	out, err := execute(t, "--config", writeConfig(t, data), "inspect", "--limit", "0", "--swatch", swatch)
	require.NoError(t, err)

	assert.Contains(t, out, "2 masks, 1536 pixels, 0 transparent, 2 unmatched")
	assert.Contains(t, out, "[0 0 255]")
	assert.Contains(t, out, "palette:")
	assert.FileExists(t, swatch)
}

func TestRenderCommand(t *testing.T) {
	data := t.TempDir()
	writeDataset(t, data, 2)
	outDir := filepath.Join(t.TempDir(), "render")
	_, err := execute(t, "--config", writeConfig(t, data), "render", "--count", "2", "--truth", "--out", outDir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outDir, "truth_0.png"))
	assert.FileExists(t, filepath.Join(outDir, "truth_1.png"))
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network:\n  groups: [[4]]\n"), 0o600))
	_, err := execute(t, "--config", path, "run")
	assert.ErrorContains(t, err, "invalid configuration")
}
