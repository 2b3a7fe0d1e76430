package decoder

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/multiimage/core"
)

// Raster forces decompression by drawing into an RGBA canvas. Decoders in
// the standard library hand back formats such as *image.YCbCr whose pixels
// are converted on every At call; after Raster the image is plain RGBA and
// can be displayed without further conversion.
type Raster struct{}

// NewRaster returns a Raster.
func NewRaster() *Raster { return &Raster{} }

// Draw renders src onto a new canvas anchored at the origin.
func (Raster) Draw(src image.Image) draw.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}

// Extract reads the canvas back into a tightly packed RGBA image that shares
// nothing with the canvas.
func (Raster) Extract(canvas draw.Image) image.Image {
	b := canvas.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if rgba, ok := canvas.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			src := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(out.Pix[y*out.Stride:y*out.Stride+4*b.Dx()], src[:4*b.Dx()])
		}
		return out
	}
	xdraw.Draw(out, out.Bounds(), canvas, b.Min, xdraw.Src)
	return out
}

var _ core.Rasterizer = Raster{}
