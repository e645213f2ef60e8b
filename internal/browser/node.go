package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/v0xg/voicefill/internal/dom"
)

// Node is an element of a live tab. Reads that fail, typically because
// the element was detached, return zero values.
type Node struct {
	p  *Page
	el *rod.Element
}

var (
	_ dom.Node        = (*Node)(nil)
	_ dom.Highlighter = (*Node)(nil)
)

// Element returns the underlying Rod element.
func (n *Node) Element() *rod.Element {
	return n.el
}

func (n *Node) evalStr(js string, args ...interface{}) string {
	res, err := n.el.Eval(js, args...)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (n *Node) evalBool(js string, args ...interface{}) bool {
	res, err := n.el.Eval(js, args...)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func (n *Node) evalNode(js string, args ...interface{}) dom.Node {
	res, err := n.el.Evaluate(rod.Eval(js, args...).ByObject())
	if err != nil {
		return nil
	}
	return n.p.fromObject(res)
}

func (n *Node) Tag() string {
	return n.evalStr(`() => this.tagName.toLowerCase()`)
}

func (n *Node) Attr(name string) (string, bool) {
	v, err := n.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (n *Node) Text() string {
	return strings.TrimSpace(n.evalStr(`() => this.textContent || ''`))
}

func (n *Node) Parent() dom.Node {
	return n.evalNode(`() => this.parentElement`)
}

func (n *Node) Closest(selector string) dom.Node {
	return n.evalNode(`(s) => this.closest(s)`, selector)
}

func (n *Node) Query(selector string) dom.Node {
	return n.evalNode(`(s) => this.querySelector(s)`, selector)
}

func (n *Node) QueryAll(selector string) []dom.Node {
	els, err := n.el.Elements(selector)
	if err != nil {
		return nil
	}
	return n.p.wrapAll(els)
}

func (n *Node) Matches(selector string) bool {
	return n.evalBool(`(s) => { try { return this.matches(s) } catch (e) { return false } }`, selector)
}

// Visible requires a rendered box and no hiding computed style.
func (n *Node) Visible() bool {
	return n.evalBool(`() => {
		const s = window.getComputedStyle(this);
		if (s.display === 'none' || s.visibility === 'hidden') return false;
		return this.getClientRects().length > 0;
	}`)
}

func (n *Node) Connected() bool {
	return n.evalBool(`() => this.isConnected`)
}

func (n *Node) Value() string {
	return n.evalStr(`() => this.value == null ? '' : String(this.value)`)
}

func (n *Node) Checked() bool {
	return n.evalBool(`() => this.checked === true || this.getAttribute('aria-checked') === 'true'`)
}

// SetValue calls the value setter of the element's own prototype so
// frameworks that shadow the instance property see the change.
func (n *Node) SetValue(v string) error {
	_, err := n.el.Eval(`(v) => {
		const proto = Object.getPrototypeOf(this);
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) {
			desc.set.call(this, v);
		} else {
			this.value = v;
		}
	}`, v)
	if err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	return nil
}

func (n *Node) SetChecked(v bool) error {
	_, err := n.el.Eval(`(v) => {
		const proto = Object.getPrototypeOf(this);
		const desc = Object.getOwnPropertyDescriptor(proto, 'checked');
		if (desc && desc.set) {
			desc.set.call(this, v);
		} else {
			this.checked = v;
		}
	}`, v)
	if err != nil {
		return fmt.Errorf("set checked: %w", err)
	}
	return nil
}

// Dispatch fires a bubbling event of the constructor matching its type.
func (n *Node) Dispatch(eventType string) error {
	_, err := n.el.Eval(`(type) => {
		const init = { bubbles: true, cancelable: true };
		let ev;
		if (type.startsWith('key')) {
			ev = new KeyboardEvent(type, init);
		} else if (type.startsWith('mouse') || type === 'click') {
			ev = new MouseEvent(type, Object.assign({ view: window }, init));
		} else if (type === 'focus' || type === 'blur' || type === 'focusin' || type === 'focusout') {
			ev = new FocusEvent(type, init);
		} else {
			ev = new Event(type, init);
		}
		this.dispatchEvent(ev);
	}`, eventType)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", eventType, err)
	}
	return nil
}

// Click activates the element from script, which works for hidden inputs
// behind styled controls where a real pointer click would miss.
func (n *Node) Click() error {
	if _, err := n.el.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (n *Node) Focus() error {
	return n.el.Focus()
}

// Highlight scrolls the element into view and outlines it for d.
func (n *Node) Highlight(d time.Duration) error {
	_, err := n.el.Eval(`(ms) => {
		this.scrollIntoView({ behavior: 'smooth', block: 'center' });
		const shadow = this.style.boxShadow;
		const border = this.style.borderColor;
		this.style.boxShadow = '0 0 0 4px rgba(59,130,246,0.5)';
		this.style.borderColor = '#3b82f6';
		setTimeout(() => {
			this.style.boxShadow = shadow;
			this.style.borderColor = border;
		}, ms);
	}`, d.Milliseconds())
	if err != nil {
		return fmt.Errorf("highlight: %w", err)
	}
	return nil
}
