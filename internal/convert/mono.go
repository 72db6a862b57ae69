package convert

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// DefaultThreshold is the luma below which a pixel becomes black.
const DefaultThreshold = 128

// Palette is the two-colour palette of the output image. Index 0 is black.
var Palette = color.Palette{color.Black, color.White}

// Mono is a thresholded screenshot in the two forms displays consume.
type Mono struct {
	PNG    []byte // 1-bit paletted PNG
	Plane  []byte // packed 1bpp plane, see Pack
	Width  int
	Height int
}

// ToMono decodes a PNG screenshot, thresholds it to black/white and returns
// it both as a 1-bit paletted PNG and as a packed plane.
func ToMono(pngData []byte, threshold uint8) (Mono, error) {
	src, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return Mono{}, fmt.Errorf("convert: decode png: %w", err)
	}

	mono := Threshold(src, threshold)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, mono); err != nil {
		return Mono{}, fmt.Errorf("convert: encode png: %w", err)
	}
	b := mono.Bounds()
	return Mono{
		PNG:    buf.Bytes(),
		Plane:  Pack(mono),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// Threshold maps every pixel of img to Palette. Transparent pixels
// (alpha < 128) are white; otherwise a pixel is black when its luma
// 0.299R + 0.587G + 0.114B is below threshold. Zero threshold means
// DefaultThreshold.
func Threshold(img image.Image, threshold uint8) *image.Paletted {
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(b)
		draw.Draw(nrgba, b, img, b.Min, draw.Src)
	}

	out := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), Palette)
	for y := 0; y < b.Dy(); y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < b.Dx(); x++ {
			i := x * 4
			if isBlack(row[i], row[i+1], row[i+2], row[i+3], threshold) {
				out.SetColorIndex(x, y, 0)
			} else {
				out.SetColorIndex(x, y, 1)
			}
		}
	}
	return out
}

func isBlack(r, g, b, a, threshold uint8) bool {
	if a < 128 {
		return false
	}
	luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	return luma < float64(threshold)
}

// Pack packs a thresholded image into a y-major, MSB-first 1bpp plane where
// a set bit is white. Rows are padded to whole bytes.
//
//	byteIndex = y*stride + x>>3
//	mask      = 0x80 >> (x & 7)
func Pack(img *image.Paletted) []byte {
	b := img.Bounds()
	stride := (b.Dx() + 7) / 8
	plane := make([]byte, stride*b.Dy())

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if img.ColorIndexAt(b.Min.X+x, b.Min.Y+y) == 0 {
				continue
			}
			plane[y*stride+(x>>3)] |= byte(0x80 >> (x & 7))
		}
	}
	return plane
}

// Hash returns the hex sha256 of data. Displays compare it with their last
// value to skip redundant refreshes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
