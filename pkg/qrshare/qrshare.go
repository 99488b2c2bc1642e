//go:build !js

// Package qrshare renders the share QR for a marker view using
// github.com/skip2/go-qrcode at ECC=H, with a map-pin drawn into the
// central box. ECC=H tolerates the covered modules, so the code stays
// scannable with a logo box up to 40% of the edge.
package qrshare

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	qrcode "github.com/skip2/go-qrcode"
)

// Options controls the rendered QR.
type Options struct {
	// Output size (px)
	TargetPx int

	// Colors
	Fg  color.RGBA // QR module color
	Bg  color.RGBA // background, including the quiet zone
	Pin color.RGBA // map-pin color for the vector fallback

	// Central square reserved for the logo, as a fraction of the edge
	// (clamped to 0.20..0.40)
	LogoBoxFrac float64

	// Padding around an embedded PNG logo (px)
	LogoPadding int
}

// EncodePNG writes the QR for data into w. When logoPNG decodes, it is
// scaled into the central box; otherwise a vector map-pin is drawn.
func EncodePNG(w io.Writer, data []byte, logoPNG []byte, opt Options) error {
	if opt.TargetPx <= 0 {
		opt.TargetPx = 1400
	}
	if opt.LogoPadding < 0 {
		opt.LogoPadding = 0
	}
	if opt.LogoBoxFrac <= 0 {
		opt.LogoBoxFrac = 0.32
	}
	if opt.LogoBoxFrac < 0.20 {
		opt.LogoBoxFrac = 0.20
	}
	if opt.LogoBoxFrac > 0.40 {
		opt.LogoBoxFrac = 0.40
	}
	if (opt.Fg == color.RGBA{}) {
		opt.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (opt.Bg == color.RGBA{}) {
		opt.Bg = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	}
	if (opt.Pin == color.RGBA{}) {
		opt.Pin = color.RGBA{0x1A, 0x73, 0xE8, 0xFF}
	}

	qr, err := qrcode.New(string(data), qrcode.Highest)
	if err != nil {
		return err
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg
	qr.DisableBorder = false

	src := qr.Image(opt.TargetPx)
	b := src.Bounds()
	W, H := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, W, H))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{opt.Bg}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)

	// Central box
	box := int(opt.LogoBoxFrac * float64(min(W, H)))
	if box%2 == 1 {
		box--
	}
	if box < W/6 {
		box = W / 6
	}
	cx, cy := W/2, H/2
	fillRect(dst, cx-box/2, cy-box/2, box, box, opt.Bg)

	// Logo: PNG or vector map-pin fallback
	if len(logoPNG) > 0 {
		img, err := png.Decode(bytes.NewReader(logoPNG))
		if err == nil {
			pad := opt.LogoPadding
			maxW := box - 2*pad
			maxH := box - 2*pad
			if maxW > 0 && maxH > 0 {
				wr, hr := img.Bounds().Dx(), img.Bounds().Dy()
				sw, sh := fitRect(wr, hr, maxW, maxH)
				scaled := scaleNearest(img, sw, sh)
				draw.Draw(dst, image.Rect(cx-sw/2, cy-sh/2, cx-sw/2+sw, cy-sh/2+sh), scaled, image.Point{}, draw.Over)
			}
		} else {
			drawPin(dst, cx, cy, box, opt.Pin, opt.Bg)
		}
	} else {
		drawPin(dst, cx, cy, box, opt.Pin, opt.Bg)
	}

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, dst)
}

// drawPin draws a map pin: round head with a hole, tapering to a tip
// at the bottom of the box.
func drawPin(dst *image.RGBA, cx, cy, box int, col, bg color.RGBA) {
	half := box / 2
	rHead := int(0.52 * float64(half))
	headCY := cy - int(0.28*float64(half))
	tipY := cy + int(0.92*float64(half))

	// Tail: horizontal spans shrinking linearly from the head's widest
	// chord down to the tip.
	for y := headCY; y <= tipY; y++ {
		t := float64(y-headCY) / float64(tipY-headCY)
		halfWidth := int((1 - t) * float64(rHead))
		if halfWidth < 0 {
			halfWidth = 0
		}
		for x := cx - halfWidth; x <= cx+halfWidth; x++ {
			dst.Set(x, y, col)
		}
	}

	// Head with a hole punched in the middle.
	fillCircle(dst, cx, headCY, rHead, col)
	fillCircle(dst, cx, headCY, int(0.42*float64(rHead)), bg)
}

// ---------- tiny raster helpers (nearest-neighbor scale, fills) ----------

func fitRect(w, h, maxW, maxH int) (int, int) {
	if w == 0 || h == 0 {
		return maxW, maxH
	}
	rx := float64(maxW) / float64(w)
	ry := float64(maxH) / float64(h)
	s := rx
	if ry < rx {
		s = ry
	}
	sw := int(math.Floor(float64(w) * s))
	sh := int(math.Floor(float64(h) * s))
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}

func scaleNearest(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	sw := sb.Dx()
	sh := sb.Dy()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + int(float64(y)*float64(sh)/float64(h))
		for x := 0; x < w; x++ {
			sx := sb.Min.X + int(float64(x)*float64(sw)/float64(w))
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

func fillRect(img *image.RGBA, x, y, w, h int, col color.RGBA) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			img.Set(xx, yy, col)
		}
	}
}

func fillCircle(img *image.RGBA, cx, cy, r int, col color.RGBA) {
	if r <= 0 {
		return
	}
	r2 := r * r
	b := img.Bounds()
	minY := max(cy-r, b.Min.Y)
	maxY := min(cy+r, b.Max.Y-1)
	for y := minY; y <= maxY; y++ {
		dy := y - cy
		xx := int(math.Sqrt(float64(r2 - dy*dy)))
		x1 := max(cx-xx, b.Min.X)
		x2 := min(cx+xx, b.Max.X-1)
		for x := x1; x <= x2; x++ {
			img.Set(x, y, col)
		}
	}
}
