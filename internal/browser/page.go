package browser

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"math"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/dom"
)

//go:embed observer.js
var observerJS string

const mutationBinding = "__voicefill_mutation"

// Page is a live tab. It implements dom.Document.
type Page struct {
	page   *rod.Page
	attr   string
	logger *zap.Logger
}

// NewPage wraps a Rod page.
func NewPage(p *rod.Page, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{page: p, attr: crawler.DefaultAttr, logger: logger}
}

// WithAttr sets the identifying attribute the mutation observer watches.
func (p *Page) WithAttr(attr string) *Page {
	p.attr = attr
	return p
}

// Rod returns the underlying Rod page.
func (p *Page) Rod() *rod.Page {
	return p.page
}

// Query implements dom.Document.
func (p *Page) Query(selector string) dom.Node {
	res, err := p.page.Evaluate(rod.Eval(`(s) => document.querySelector(s)`, selector).ByObject())
	if err != nil {
		p.logger.Debug("query failed", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	return p.fromObject(res)
}

// QueryAll implements dom.Document.
func (p *Page) QueryAll(selector string) []dom.Node {
	els, err := p.page.Elements(selector)
	if err != nil {
		p.logger.Debug("query all failed", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	return p.wrapAll(els)
}

// URL returns the current location.
func (p *Page) URL() string {
	res, err := p.page.Eval(`() => window.location.href`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Observe calls notify whenever nodes carrying the identifying attribute
// are added or removed, until ctx is done. The observer is reinstalled on
// every navigation.
func (p *Page) Observe(ctx context.Context, notify func()) error {
	if err := (proto.RuntimeAddBinding{Name: mutationBinding}).Call(p.page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}

	wait := p.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == mutationBinding {
			notify()
		}
	})

	args, err := json.Marshal([]string{mutationBinding, p.attr})
	if err != nil {
		return err
	}
	remove, err := p.page.EvalOnNewDocument(fmt.Sprintf("(%s)(...%s)", observerJS, args))
	if err != nil {
		p.logger.Warn("observer will not survive navigation", zap.Error(err))
	} else {
		defer func() { _ = remove() }()
	}
	if _, err := p.page.Eval(observerJS, mutationBinding, p.attr); err != nil {
		return fmt.Errorf("browser: inject observer: %w", err)
	}
	p.logger.Debug("mutation observer installed", zap.String("attr", p.attr))

	wait()
	return nil
}

// Screenshot captures the viewport.
func (p *Page) Screenshot() (image.Image, error) {
	quality := 90
	data, err := p.page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatPng,
		Quality: &quality,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	return img, nil
}

// Box returns the viewport rectangle of a node of this page.
func (p *Page) Box(n dom.Node) (image.Rectangle, error) {
	node, ok := n.(*Node)
	if !ok {
		return image.Rectangle{}, fmt.Errorf("browser: %T is not a live node", n)
	}
	shape, err := node.el.Shape()
	if err != nil {
		return image.Rectangle{}, err
	}
	if len(shape.Quads) == 0 {
		return image.Rectangle{}, fmt.Errorf("browser: element has no shape")
	}

	quad := shape.Quads[0]
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(quad); i += 2 {
		minX, maxX = math.Min(minX, quad[i]), math.Max(maxX, quad[i])
		minY, maxY = math.Min(minY, quad[i+1]), math.Max(maxY, quad[i+1])
	}
	return image.Rect(int(minX), int(minY), int(math.Ceil(maxX)), int(math.Ceil(maxY))), nil
}

func (p *Page) fromObject(res *proto.RuntimeRemoteObject) dom.Node {
	if res == nil || res.ObjectID == "" || res.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil
	}
	el, err := p.page.ElementFromObject(res)
	if err != nil {
		return nil
	}
	return &Node{p: p, el: el}
}

func (p *Page) wrapAll(els rod.Elements) []dom.Node {
	out := make([]dom.Node, 0, len(els))
	for _, el := range els {
		out = append(out, &Node{p: p, el: el})
	}
	return out
}
