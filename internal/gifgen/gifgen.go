// Package gifgen encodes screenshots into an animated GIF.
package gifgen

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"sort"
	"time"

	"github.com/nfnt/resize"
)

// ErrNoFrames is returned when there is nothing to encode.
var ErrNoFrames = errors.New("gifgen: no frames")

// Options configures GIF generation
type Options struct {
	// Delay is how long each frame stays on screen.
	Delay    time.Duration
	MaxWidth uint
}

func (o *Options) defaults() {
	if o.Delay <= 0 {
		o.Delay = time.Second
	}
	if o.MaxWidth == 0 {
		o.MaxWidth = 800
	}
}

// Generate writes frames to outputPath and returns the file size.
func Generate(frames []image.Image, outputPath string, opts Options) (int64, error) {
	if len(frames) == 0 {
		return 0, ErrNoFrames
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := Encode(f, frames, opts); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Encode writes frames as a looping GIF, scaled down to opts.MaxWidth.
func Encode(w io.Writer, frames []image.Image, opts Options) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	opts.defaults()

	// GIF delays are in 100ths of a second
	delay := int(opts.Delay / (10 * time.Millisecond))
	if delay < 1 {
		delay = 1
	}

	bounds := frames[0].Bounds()
	outputWidth := opts.MaxWidth
	if uint(bounds.Dx()) < outputWidth {
		outputWidth = uint(bounds.Dx())
	}
	aspectRatio := float64(bounds.Dy()) / float64(bounds.Dx())
	outputHeight := uint(float64(outputWidth) * aspectRatio)

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0,
	}

	palette := generatePalette(frames[0])

	for i, frame := range frames {
		resized := resize.Resize(outputWidth, outputHeight, frame, resize.Lanczos3)

		paletted := image.NewPaletted(resized.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, resized.Bounds(), resized, resized.Bounds().Min)

		g.Image[i] = paletted
		g.Delay[i] = delay
	}

	return gif.EncodeAll(w, g)
}

// generatePalette builds a 256-color palette from the most frequent colors
// of a sampled image, padded with grays.
func generatePalette(img image.Image) color.Palette {
	bounds := img.Bounds()
	colorMap := make(map[color.RGBA]int)

	// Sample every 4th pixel
	step := 4
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, a := img.At(x, y).RGBA()
			c := color.RGBA{
				R: uint8(r >> 8),
				G: uint8(g >> 8),
				B: uint8(b >> 8),
				A: uint8(a >> 8),
			}
			colorMap[c]++
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(colorMap))
	for c, count := range colorMap {
		colors = append(colors, colorCount{c, count})
	}
	sort.Slice(colors, func(i, j int) bool { return colors[i].count > colors[j].count })

	palette := make(color.Palette, 0, 256)
	// The highlight blue always gets a slot so outlines survive quantization.
	palette = append(palette, color.RGBA{0x3b, 0x82, 0xf6, 0xff}, color.RGBA{255, 255, 255, 255})
	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		palette = append(palette, colors[i].c)
	}
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}
