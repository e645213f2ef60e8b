package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func white(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func TestOutlineDrawsBorderAndHalo(t *testing.T) {
	frame := white(100, 100)
	box := image.Rect(20, 40, 60, 70)

	out := Outline(frame, box)

	assert.Equal(t, borderColor, out.RGBAAt(30, 40), "top edge")
	assert.Equal(t, borderColor, out.RGBAAt(20, 50), "left edge")
	assert.Equal(t, borderColor, out.RGBAAt(30, 69), "bottom edge")

	halo := out.RGBAAt(30, 38)
	assert.Less(t, halo.R, uint8(255), "halo tints the band outside the box")
	assert.Greater(t, halo.B, halo.R)

	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(40, 55), "inside is untouched")
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(5, 5), "far away is untouched")
}

func TestOutlineLeavesSourceIntact(t *testing.T) {
	frame := white(50, 50)
	_ = Outline(frame, image.Rect(10, 10, 20, 20))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, frame.RGBAAt(10, 10))
}

func TestOutlineClipsToFrame(t *testing.T) {
	frame := white(40, 40)
	require.NotPanics(t, func() {
		Outline(frame, image.Rect(-10, -10, 80, 80))
		Outline(frame, image.Rect(100, 100, 120, 120))
	})
}

func TestOutlineEmptyBox(t *testing.T) {
	frame := white(10, 10)
	out := Outline(frame, image.Rectangle{})
	assert.Equal(t, frame.Pix, out.Pix)
}

func TestAnnotate(t *testing.T) {
	frames := []image.Image{white(30, 30), white(30, 30), white(30, 30)}
	marks := []Mark{
		{Field: "od-pio", Box: image.Rect(5, 5, 15, 15)},
		{Field: "oi-pio", Box: image.Rect(10, 10, 20, 20)},
	}

	out := Annotate(frames, marks)
	require.Len(t, out, 3)
	assert.Equal(t, borderColor, out[0].(*image.RGBA).RGBAAt(8, 5))
	assert.Equal(t, borderColor, out[1].(*image.RGBA).RGBAAt(12, 10))
	assert.Same(t, frames[2], out[2])
}
