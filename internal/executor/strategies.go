package executor

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/dom"
)

// setText writes through the native setter and fires input then change.
func (m *Manipulator) setText(el dom.Node, s string) (dom.Node, error) {
	input := el
	switch el.Tag() {
	case "input", "textarea":
	default:
		input = el.Query("input, textarea")
	}
	if input == nil {
		return nil, nil
	}
	if err := input.SetValue(s); err != nil {
		return nil, fmt.Errorf("set value: %w", err)
	}
	if err := fire(input, "input", "change"); err != nil {
		return nil, err
	}
	return input, nil
}

// setSelect picks the option whose value equals s, else the first whose
// text contains s, both case-insensitively. Without a native select it
// falls back to the combobox's inner text input.
func (m *Manipulator) setSelect(el dom.Node, s string) (dom.Node, error) {
	if el.Tag() == "select" {
		opt := matchOption(el.QueryAll("option"), s)
		if opt == nil {
			return nil, nil
		}
		if err := el.SetValue(opt.Value()); err != nil {
			return nil, fmt.Errorf("set select value: %w", err)
		}
		if err := el.Dispatch("change"); err != nil {
			return nil, err
		}
		return el, nil
	}

	input := el.Query(`input[role="combobox"], input`)
	if input == nil && el.Tag() == "input" {
		input = el
	}
	if input == nil {
		return nil, nil
	}
	return m.setText(input, s)
}

func matchOption(options []dom.Node, s string) dom.Node {
	for _, o := range options {
		if strings.EqualFold(o.Value(), s) {
			return o
		}
	}
	want := strings.ToLower(s)
	for _, o := range options {
		if strings.Contains(strings.ToLower(o.Text()), want) {
			return o
		}
	}
	return nil
}

// setCheckbox clicks only when the current state differs from the target,
// since a click toggles.
func (m *Manipulator) setCheckbox(el dom.Node, v Value) (dom.Node, error) {
	want := v.Truthy()

	var box dom.Node
	if el.Tag() == "input" && dom.InputType(el) == "checkbox" {
		box = el
	} else {
		box = el.Query(`input[type="checkbox"]`)
	}
	if box == nil {
		if p := el.Parent(); p != nil {
			box = p.Query(`input[type="checkbox"]`)
		}
	}

	if box != nil {
		if box.Checked() != want {
			if err := box.Click(); err != nil {
				return nil, fmt.Errorf("toggle checkbox: %w", err)
			}
			if err := box.Dispatch("change"); err != nil {
				return nil, err
			}
		}
		return box, nil
	}

	role := strings.ToLower(dom.Attr(el, "role"))
	if role == "switch" || role == "checkbox" || el.Tag() == "button" {
		if el.Checked() != want {
			if err := el.Click(); err != nil {
				return nil, fmt.Errorf("toggle switch: %w", err)
			}
		}
		return el, nil
	}
	return nil, nil
}

// setRadio selects the member of el's radio group whose value is s. When
// the group has no name it falls back to an inner radio, and finally to
// clicking the container itself.
func (m *Manipulator) setRadio(el dom.Node, s string) (dom.Node, error) {
	first := el
	if !(el.Tag() == "input" && dom.InputType(el) == "radio") {
		first = el.Query(`input[type="radio"]`)
	}

	if first != nil {
		if name := dom.Attr(first, "name"); name != "" {
			members := m.doc.QueryAll(`input[type="radio"]` + dom.AttrEquals("name", name))
			target := matchRadio(members, s)
			if target == nil {
				m.logger.Debug("no radio matches value", zap.String("group", name), zap.String("value", s))
				return nil, nil
			}
			return target, activateRadio(target)
		}
		target := matchRadio(el.QueryAll(`input[type="radio"]`), s)
		if target == nil {
			target = first
		}
		return target, activateRadio(target)
	}

	switch el.Tag() {
	case "div", "span", "label", "button":
		if err := el.Click(); err != nil {
			return nil, fmt.Errorf("click radio container: %w", err)
		}
		if err := el.Dispatch("change"); err != nil {
			return nil, err
		}
		return el, nil
	}
	return nil, nil
}

// matchRadio matches by exact value, then by label text ignoring case.
func matchRadio(members []dom.Node, s string) dom.Node {
	for _, r := range members {
		if r.Value() == s {
			return r
		}
	}
	for _, r := range members {
		if l := r.Closest("label"); l != nil && strings.EqualFold(l.Text(), strings.TrimSpace(s)) {
			return r
		}
	}
	return nil
}

// activateRadio clicks the wrapping label, forces the checked property and
// replays the events frameworks listen for.
func activateRadio(r dom.Node) error {
	if l := r.Closest("label"); l != nil {
		if err := l.Click(); err != nil {
			return fmt.Errorf("click radio label: %w", err)
		}
	}
	if err := r.SetChecked(true); err != nil {
		return fmt.Errorf("check radio: %w", err)
	}
	return fire(r, "click", "input", "change")
}

// clickAction clicks the nearest clickable inside the container of id,
// trying the configured alternate id when the first is absent.
func (m *Manipulator) clickAction(id string) (dom.Node, error) {
	el := m.byID(id)
	if el == nil {
		if alt, ok := m.opts.ClickFallbacks[id]; ok {
			el = m.byID(alt)
			if el != nil {
				m.logger.Debug("click fell back to alternate id", zap.String("field", id), zap.String("alternate", alt))
			}
		}
	}
	if el == nil {
		el = m.scanner.Element(id)
	}
	if el == nil {
		return nil, nil
	}

	target := el.Query(crawler.ClickableSelector)
	if target == nil {
		target = el
	}
	if err := target.Click(); err != nil {
		return nil, fmt.Errorf("click: %w", err)
	}
	return el, nil
}

func fire(n dom.Node, events ...string) error {
	for _, ev := range events {
		if err := n.Dispatch(ev); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev, err)
		}
	}
	return nil
}
