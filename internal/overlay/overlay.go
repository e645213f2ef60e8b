// Package overlay draws fill markers onto page screenshots.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// Halo is how far the translucent glow extends around an outlined box.
const Halo = 4

var (
	borderColor = color.RGBA{0x3b, 0x82, 0xf6, 0xff}
	haloColor   = color.NRGBA{59, 130, 246, 128}
	checkColor  = color.RGBA{255, 255, 255, 255}
)

// Mark is a filled element to outline on one frame.
type Mark struct {
	Field string
	Box   image.Rectangle
}

// Outline returns a copy of frame with box outlined the way the live page
// highlights a written field, plus a check badge on its top-right corner.
func Outline(frame image.Image, box image.Rectangle) *image.RGBA {
	bounds := frame.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, frame, bounds.Min, draw.Src)

	if box.Empty() {
		return result
	}

	halo := image.NewUniform(haloColor)
	outer := box.Inset(-Halo)
	for _, r := range ring(outer, Halo) {
		draw.Draw(result, r.Intersect(bounds), halo, image.Point{}, draw.Over)
	}

	rect(result, box, borderColor)
	drawCheck(result, box.Max.X, box.Min.Y)
	return result
}

// Annotate outlines marks[i] on frames[i].
func Annotate(frames []image.Image, marks []Mark) []image.Image {
	result := make([]image.Image, len(frames))
	for i, frame := range frames {
		if i < len(marks) {
			result[i] = Outline(frame, marks[i].Box)
		} else {
			result[i] = frame
		}
	}
	return result
}

// ring splits the band of width w inside r into four rectangles.
func ring(r image.Rectangle, w int) []image.Rectangle {
	return []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y+w, r.Min.X+w, r.Max.Y-w),
		image.Rect(r.Max.X-w, r.Min.Y+w, r.Max.X, r.Max.Y-w),
	}
}

func rect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	x1, y1, x2, y2 := r.Min.X, r.Min.Y, r.Max.X-1, r.Max.Y-1
	drawLine(img, x1, y1, x2, y1, c)
	drawLine(img, x2, y1, x2, y2, c)
	drawLine(img, x2, y2, x1, y2, c)
	drawLine(img, x1, y2, x1, y1, c)
}

// drawCheck draws a filled badge centered on (cx, cy) with a tick.
func drawCheck(img *image.RGBA, cx, cy int) {
	const radius = 8
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixelSafe(img, cx+dx, cy+dy, borderColor)
			}
		}
	}
	for off := 0; off < 2; off++ {
		drawLine(img, cx-4, cy+off, cx-1, cy+3+off, checkColor)
		drawLine(img, cx-1, cy+3+off, cx+4, cy-3+off, checkColor)
	}
}

// drawLine draws a line between two points using Bresenham's algorithm
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
