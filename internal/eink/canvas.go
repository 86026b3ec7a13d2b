package eink

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// LoadFace opens a TTF/OTF font file at the given point size.
func LoadFace(path string, size float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font %s: %w", path, err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build font face: %w", err)
	}
	return face, nil
}

// FallbackFace returns the built-in bitmap face, for when no font file is
// available.
func FallbackFace() font.Face {
	return basicfont.Face7x13
}

// Canvas is a white grayscale surface for composing text cards.
type Canvas struct {
	img  *image.Gray
	face font.Face
}

// NewCanvas returns a white canvas of the given size drawing with face.
func NewCanvas(width, height int, face font.Face) *Canvas {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return &Canvas{img: img, face: face}
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int { return c.img.Bounds().Dx() }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int { return c.img.Bounds().Dy() }

// MeasureString returns the rendered width of s in pixels.
func (c *Canvas) MeasureString(s string) int {
	return font.MeasureString(c.face, s).Ceil()
}

// LineHeight returns the vertical space one text line occupies.
func (c *Canvas) LineHeight() int {
	m := c.face.Metrics()
	return (m.Ascent + m.Descent).Ceil()
}

// WrapText greedily wraps text into lines no wider than maxWidth pixels.
// A single word wider than maxWidth gets a line of its own.
func (c *Canvas) WrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	lines := make([]string, 0, 4)
	current := words[0]
	for _, w := range words[1:] {
		test := current + " " + w
		if c.MeasureString(test) <= maxWidth {
			current = test
		} else {
			lines = append(lines, current)
			current = w
		}
	}
	return append(lines, current)
}

// DrawText draws s in black with its top-left corner at (x, y).
func (c *Canvas) DrawText(x, y int, s string) {
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(color.Gray{Y: 0}),
		Face: c.face,
		Dot:  fixed.P(x, y+c.face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

// DrawCenteredText draws s horizontally centered with its top edge at y.
func (c *Canvas) DrawCenteredText(y int, s string) {
	x := (c.Width() - c.MeasureString(s)) / 2
	if x < 0 {
		x = 0
	}
	c.DrawText(x, y, s)
}

// Rotate90 returns the canvas image rotated counterclockwise into the
// opposite orientation.
func (c *Canvas) Rotate90() *image.Gray {
	b := c.img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetGray(y, w-1-x, c.img.GrayAt(x, y))
		}
	}
	return dst
}

// EncodePNG encodes the canvas as a grayscale PNG.
func (c *Canvas) EncodePNG() ([]byte, error) {
	return encodePNG(c.img)
}

// EncodeRotatedPNG rotates the canvas into portrait and encodes it.
func (c *Canvas) EncodeRotatedPNG() ([]byte, error) {
	return encodePNG(c.Rotate90())
}

// Image exposes the underlying pixels, for tests.
func (c *Canvas) Image() *image.Gray { return c.img }
