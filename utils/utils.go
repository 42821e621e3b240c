package utils

import (
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

func ReadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return img, nil
}

// SaveImages writes images as dir/<prefix>_<index>.png.
func SaveImages(images []image.Image, dir, prefix string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, img := range images {
		if err := SaveImage(img, filepath.Join(dir, prefix+"_"+strconv.Itoa(i)+".png")); err != nil {
			return err
		}
	}
	return nil
}

func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", filename)
	}
	return f.Close()
}

// PaletteImage lays palette colours out as a strip of square tiles.
func PaletteImage(palette []colorful.Color, tileSize int) (*image.NRGBA, error) {
	if len(palette) == 0 {
		return nil, errors.New("empty palette")
	}
	if tileSize <= 0 {
		tileSize = 64
	}
	img := image.NewNRGBA(image.Rect(0, 0, tileSize*len(palette), tileSize))
	for i, c := range palette {
		r, g, b := c.Clamped().RGB255()
		for y := range tileSize {
			for x := i * tileSize; x < (i+1)*tileSize; x++ {
				img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
			}
		}
	}
	return img, nil
}

func SavePalette(palette []colorful.Color, tileSize int, filename string) error {
	img, err := PaletteImage(palette, tileSize)
	if err != nil {
		return err
	}
	return SaveImage(img, filename)
}
