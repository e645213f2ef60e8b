package crawler

import (
	"regexp"
	"strings"

	"github.com/v0xg/voicefill/internal/dom"
)

const (
	labelSelector  = "label, .text-label"
	columnSelector = `[class*="col"]`
	// NoLabel is the caption of a field whose id cleans to nothing.
	NoLabel = "Sin etiqueta"
)

// labelInput is what every label extractor sees.
type labelInput struct {
	doc       dom.Document
	container dom.Node
	input     dom.Node
	attr      string
}

type labelExtractor func(labelInput) string

// labelChain is evaluated in order; the first non-empty result wins.
var labelChain = []labelExtractor{
	columnLabel,
	ariaLabel,
	placeholderLabel,
	innerLabel,
	parentLabel,
	labelledBy,
}

// ResolveLabel derives a caption for a field. It never returns an empty
// string.
func ResolveLabel(doc dom.Document, attr string, container, input dom.Node) string {
	in := labelInput{doc: doc, container: container, input: input, attr: attr}
	for _, extract := range labelChain {
		if l := cleanLabel(extract(in)); l != "" {
			return l
		}
	}
	return FallbackLabel(dom.Attr(container, attr))
}

func columnLabel(in labelInput) string {
	col := in.container.Closest(columnSelector)
	if col == nil {
		return ""
	}
	return textOf(col.Query(labelSelector))
}

func ariaLabel(in labelInput) string {
	if in.input == nil {
		return ""
	}
	return dom.Attr(in.input, "aria-label")
}

func placeholderLabel(in labelInput) string {
	if in.input == nil {
		return ""
	}
	return dom.Attr(in.input, "placeholder")
}

func innerLabel(in labelInput) string {
	return textOf(in.container.Query(labelSelector))
}

func parentLabel(in labelInput) string {
	p := in.container.Parent()
	if p == nil {
		return ""
	}
	return textOf(p.Query(labelSelector))
}

func labelledBy(in labelInput) string {
	n := in.input
	if n == nil {
		n = in.container
	}
	ref := dom.Attr(n, "aria-labelledby")
	if ref == "" || in.doc == nil {
		return ""
	}
	return textOf(in.doc.Query(dom.AttrEquals("id", ref)))
}

var boilerplate = regexp.MustCompile(`(?i)badge|field`)

// FallbackLabel turns an identifier into a readable caption.
func FallbackLabel(id string) string {
	s := strings.NewReplacer("-", " ", "_", " ").Replace(id)
	s = boilerplate.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return NoLabel
	}
	return s
}

func textOf(n dom.Node) string {
	if n == nil {
		return ""
	}
	return n.Text()
}

func cleanLabel(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, " :*")
}
