package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SimCamera renders a synthetic frame with the overlay text burned in.
type SimCamera struct {
	Width, Height int
}

func (c *SimCamera) Name() string { return "sim" }

func (c *SimCamera) Capture(ctx context.Context, ov Overlay) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	w, h := c.Width, c.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Sky to ground gradient.
	for y := 0; y < h; y++ {
		v := uint8(200 - 150*y/h)
		draw.Draw(img, image.Rect(0, y, w, y+1), &image.Uniform{C: color.RGBA{R: v / 2, G: v / 2, B: v, A: 255}}, image.Point{}, draw.Src)
	}
	draw.Draw(img, image.Rect(0, h-60, w, h), &image.Uniform{C: color.RGBA{A: 180}}, image.Point{}, draw.Over)

	lines := []string{
		fmt.Sprintf("LAT %.6f  LON %.6f", ov.LatDeg, ov.LonDeg),
		fmt.Sprintf("HDG %05.1f  TILT %.1f  DIST %.1fm", ov.HeadingDeg, ov.TiltDeg, ov.DistanceM),
		ov.At.UTC().Format("2006-01-02 15:04:05Z"),
	}
	d := &font.Drawer{Dst: img, Src: image.White, Face: basicfont.Face7x13}
	for i, s := range lines {
		d.Dot = fixed.P(10, h-44+i*16)
		d.DrawString(s)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, err
	}
	return Image{Data: buf.Bytes(), ContentType: "image/png"}, nil
}
