package gifgen

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/voicefill/internal/dom"
	"github.com/v0xg/voicefill/internal/dom/htmldom"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func TestEncode(t *testing.T) {
	frames := []image.Image{solid(200, 100, color.White), solid(200, 100, color.Black)}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, frames, Options{Delay: 500 * time.Millisecond, MaxWidth: 100}))

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, []int{50, 50}, g.Delay)
	assert.Equal(t, 100, g.Image[0].Bounds().Dx())
	assert.Equal(t, 50, g.Image[0].Bounds().Dy())
}

func TestEncodeDoesNotUpscale(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []image.Image{solid(40, 20, color.White)}, Options{}))

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Image[0].Bounds().Dx())
	assert.Equal(t, []int{100}, g.Delay)
}

func TestEncodeNoFrames(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Encode(&buf, nil, Options{}), ErrNoFrames)

	_, err := Generate(nil, filepath.Join(t.TempDir(), "x.gif"), Options{})
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestPaletteKeepsHighlight(t *testing.T) {
	p := generatePalette(solid(8, 8, color.Black))
	require.Len(t, p, 256)
	assert.Equal(t, color.RGBA{0x3b, 0x82, 0xf6, 0xff}, p[0])
}

type fakeCamera struct {
	shots   int
	failBox bool
	failAt  int
}

func (c *fakeCamera) Screenshot() (image.Image, error) {
	c.shots++
	if c.failAt > 0 && c.shots == c.failAt {
		return nil, errors.New("tab gone")
	}
	return solid(64, 48, color.White), nil
}

func (c *fakeCamera) Box(dom.Node) (image.Rectangle, error) {
	if c.failBox {
		return image.Rectangle{}, errors.New("detached")
	}
	return image.Rect(10, 10, 30, 20), nil
}

func TestTrailRecordsAndSaves(t *testing.T) {
	doc := htmldom.MustParse(`<input data-testid="od-pio"><input data-testid="oi-pio">`)
	cam := &fakeCamera{failAt: 2}
	trail := NewTrail(cam, 0, nil)

	trail.Record("od-pio", doc.Query(`[data-testid="od-pio"]`))
	trail.Record("lost", doc.Query(`[data-testid="oi-pio"]`))
	cam.failBox = true
	trail.Record("oi-pio", doc.Query(`[data-testid="oi-pio"]`))

	assert.Equal(t, 2, trail.Len())
	assert.Equal(t, []string{"od-pio", "oi-pio"}, trail.Fields())

	path := filepath.Join(t.TempDir(), "trail.gif")
	size, err := trail.Save(path, Options{})
	require.NoError(t, err)
	assert.Positive(t, size)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, g.Image, 2)
}

func TestTrailLimit(t *testing.T) {
	doc := htmldom.MustParse(`<input data-testid="a">`)
	trail := NewTrail(&fakeCamera{}, 2, nil)
	n := doc.Query(`[data-testid="a"]`)
	for i := 0; i < 5; i++ {
		trail.Record("a", n)
	}
	assert.Equal(t, 2, trail.Len())
}
