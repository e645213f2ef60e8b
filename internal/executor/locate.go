package executor

import (
	"strings"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/dom"
)

// idSuffixes are stripped from an id before the partial match lookup.
var idSuffixes = []string{"-badge-field", "-badge", "-field"}

// locate finds the writable node for id. Each step runs only when the
// previous one produced nothing usable.
func (m *Manipulator) locate(id string) dom.Node {
	var fallback dom.Node

	if el := m.scanner.Input(id); el != nil {
		if isGenericContainer(el) {
			if inner := m.bestInput(el); inner != nil {
				el = inner
			}
		}
		if !isGenericContainer(el) {
			return el
		}
		fallback = el
	}

	container := m.byID(id)
	if container != nil {
		if isWritable(container) {
			return container
		}
		if inner := m.bestInput(container); inner != nil {
			return inner
		}
	}

	if base := stripSuffix(id); base != "" {
		for _, cand := range m.doc.QueryAll(dom.AttrContains(m.attr, base)) {
			switch cand.Tag() {
			case "textarea", "input":
				return cand
			}
			if inner := m.bestInput(cand); inner != nil {
				return inner
			}
		}
	}

	if container != nil {
		if n := crawler.NearbyInput(container); n != nil {
			return n
		}
	}
	return fallback
}

func stripSuffix(id string) string {
	for _, s := range idSuffixes {
		if strings.HasSuffix(id, s) {
			return strings.TrimSuffix(id, s)
		}
	}
	return id
}

// bestInput picks the most plausible control inside container. Visible
// nodes win over hidden-but-present ones of the same kind.
func (m *Manipulator) bestInput(container dom.Node) dom.Node {
	id := strings.ToLower(dom.Attr(container, m.attr))
	if strings.Contains(id, "checkbox") || strings.Contains(id, "switch") {
		if cb := container.Query(`input[type="checkbox"]`); cb != nil {
			return cb
		}
		if sw := container.Query(`button[role="switch"], [role="checkbox"], [role="switch"]`); sw != nil {
			return sw
		}
	}

	if n := preferVisible(container.QueryAll("textarea")); n != nil {
		return n
	}
	if n := preferVisible(container.QueryAll(`input[type="text"], input:not([type])`)); n != nil {
		return n
	}
	for _, sel := range []string{
		`input[type="number"]`,
		`input:not([type="checkbox"]):not([type="radio"]):not([type="hidden"])`,
		"select",
		`input[type="checkbox"]`,
		`button[role="switch"]`,
	} {
		if n := container.Query(sel); n != nil {
			return n
		}
	}
	return nil
}

func preferVisible(nodes []dom.Node) dom.Node {
	for _, n := range nodes {
		if n.Visible() {
			return n
		}
	}
	return dom.First(nodes)
}

func isGenericContainer(n dom.Node) bool {
	switch n.Tag() {
	case "div", "span", "section":
		return true
	}
	return false
}

// isWritable reports whether n can take a value or a toggle directly.
func isWritable(n dom.Node) bool {
	if dom.IsPrimitive(n) || n.Tag() == "button" {
		return true
	}
	switch strings.ToLower(dom.Attr(n, "role")) {
	case "switch", "checkbox", "radio":
		return true
	}
	return false
}

// inferType picks the write strategy for a resolved node.
func inferType(n dom.Node) crawler.FieldType {
	role := strings.ToLower(dom.Attr(n, "role"))
	switch n.Tag() {
	case "textarea":
		return crawler.TypeTextarea
	case "select":
		return crawler.TypeSelect
	case "input":
		switch dom.InputType(n) {
		case "checkbox":
			return crawler.TypeCheckbox
		case "radio":
			return crawler.TypeRadio
		case "number":
			return crawler.TypeNumber
		}
		return crawler.TypeText
	case "button":
		switch role {
		case "switch", "checkbox":
			return crawler.TypeCheckbox
		case "radio":
			return crawler.TypeRadio
		}
		return crawler.TypeButton
	}
	switch role {
	case "switch", "checkbox":
		return crawler.TypeCheckbox
	case "radio":
		return crawler.TypeRadio
	}
	return crawler.TypeText
}

func (m *Manipulator) isSearchableSelect(id string, el dom.Node) bool {
	if !strings.HasSuffix(id, "-select") || el.Tag() != "input" {
		return false
	}
	if c := m.byID(id); c != nil && strings.Contains(strings.ToLower(dom.Attr(c, "class")), "select") {
		return true
	}
	return el.Closest(`.select, [class*="select-"]`) != nil
}
