// Package eink prepares images for a portrait e-paper panel: fixed canvas,
// grayscale palette, white background.
package eink

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
)

// maxDecodePixels caps the dimensions an image may declare; the decoder
// allocates the full frame before reading any pixel data.
const maxDecodePixels = 179_000_000

// Processor converts arbitrary input images into panel-ready PNGs.
type Processor struct {
	Width  int
	Height int
	Levels int
}

// NewProcessor returns a processor for a panel of the given size and number
// of gray levels.
func NewProcessor(width, height, levels int) *Processor {
	return &Processor{Width: width, Height: height, Levels: levels}
}

// Process decodes raw image bytes (PNG, JPEG or GIF) and produces the panel
// image: portrait orientation, scaled to the panel width, quantized to the
// gray palette, centered vertically on a white canvas, encoded as a
// palettized PNG. Inputs declaring more than maxDecodePixels pixels are
// rejected before decoding.
func (p *Processor) Process(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxDecodePixels {
		return nil, fmt.Errorf("image too large: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxDecodePixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return p.ProcessImage(img)
}

// ProcessImage runs the pipeline on an already decoded image.
func (p *Processor) ProcessImage(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("image has zero size")
	}

	// Transparent regions must become white, not black, once the alpha
	// channel is gone. Compositing onto white is a no-op for opaque input.
	flat := flattenOnWhite(img)

	if flat.Bounds().Dx() > flat.Bounds().Dy() {
		flat = rotate90(flat)
	}

	w := flat.Bounds().Dx()
	h := flat.Bounds().Dy()
	scale := float64(p.Width) / float64(w)
	newH := int(math.Round(float64(h) * scale))
	if newH < 1 {
		newH = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, p.Width, newH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), flat, flat.Bounds(), draw.Src, nil)

	pal := grayPalette(p.Levels)
	out := image.NewPaletted(image.Rect(0, 0, p.Width, p.Height), pal)
	whiteIdx := uint8(len(pal) - 1)
	for i := range out.Pix {
		out.Pix[i] = whiteIdx
	}

	// Center vertically; an image taller than the canvas sits at the top
	// and is cropped at the bottom.
	yOffset := 0
	if newH < p.Height {
		yOffset = (p.Height - newH) / 2
	}
	maxY := newH
	if maxY > p.Height {
		maxY = p.Height
	}
	for y := 0; y < maxY; y++ {
		for x := 0; x < p.Width; x++ {
			c := scaled.RGBAAt(x, y)
			gray := (299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B) + 500) / 1000
			out.SetColorIndex(x, y+yOffset, quantIndex(uint8(gray), p.Levels))
		}
	}

	return encodePNG(out)
}

// flattenOnWhite composites the image onto an opaque white background.
func flattenOnWhite(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// rotate90 rotates counterclockwise, moving the right edge to the top.
func rotate90(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetRGBA(y, w-1-x, src.RGBAAt(x, y))
		}
	}
	return dst
}

// grayPalette returns levels evenly spaced grays from black to white.
func grayPalette(levels int) color.Palette {
	if levels < 2 {
		levels = 2
	}
	pal := make(color.Palette, levels)
	for i := 0; i < levels; i++ {
		v := uint8(i * 255 / (levels - 1))
		pal[i] = color.Gray{Y: v}
	}
	return pal
}

// quantIndex maps an 8-bit gray value to the nearest palette entry.
func quantIndex(gray uint8, levels int) uint8 {
	return uint8((int(gray)*(levels-1) + 127) / 255)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
