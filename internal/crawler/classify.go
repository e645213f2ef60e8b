package crawler

import (
	"regexp"
	"strings"

	"github.com/v0xg/voicefill/internal/dom"
)

// WritableSelector matches the controls a value can be written into.
const WritableSelector = `textarea, input:not([type="hidden"]), select`

// ClickableSelector matches action elements that take a click instead of a
// value.
const ClickableSelector = `button, a, [role="button"], [role="menuitem"]`

// Classify maps a node to its field type: tag first, then ARIA role, then
// one level into the first primitive descendant.
func Classify(n dom.Node) FieldType {
	if n == nil {
		return TypeUnknown
	}
	if t, ok := classifyTag(n); ok {
		return t
	}
	if t, ok := classifyRole(n); ok {
		return t
	}
	if inner := n.Query("input, textarea, select"); inner != nil {
		if t, ok := classifyTag(inner); ok {
			return t
		}
	}
	if IsClickable(n) {
		return TypeButton
	}
	return TypeText
}

func classifyTag(n dom.Node) (FieldType, bool) {
	switch n.Tag() {
	case "select":
		return TypeSelect, true
	case "textarea":
		return TypeTextarea, true
	case "input":
		switch dom.InputType(n) {
		case "checkbox":
			return TypeCheckbox, true
		case "radio":
			return TypeRadio, true
		case "number", "range":
			return TypeNumber, true
		case "button", "submit", "reset":
			return TypeButton, true
		}
		return TypeText, true
	}
	return "", false
}

func classifyRole(n dom.Node) (FieldType, bool) {
	switch strings.ToLower(dom.Attr(n, "role")) {
	case "combobox", "listbox":
		return TypeSelect, true
	case "checkbox", "switch":
		return TypeCheckbox, true
	case "radio":
		return TypeRadio, true
	}
	return "", false
}

// IsClickable reports whether n is a button, link or an element with a
// button-like role.
func IsClickable(n dom.Node) bool {
	switch n.Tag() {
	case "button", "a":
		return true
	}
	switch strings.ToLower(dom.Attr(n, "role")) {
	case "button", "menuitem", "tab":
		return true
	}
	return false
}

type eyePattern struct {
	eye Eye
	re  *regexp.Regexp
}

var eyePatterns = []eyePattern{
	{EyeRight, regexp.MustCompile(`(?i)\b(od|ojo.?derecho|right.?eye)\b`)},
	{EyeLeft, regexp.MustCompile(`(?i)\b(oi|ojo.?izquierdo|left.?eye)\b`)},
	{EyeBoth, regexp.MustCompile(`(?i)\b(ao|ambos.?ojos|both.?eyes)\b`)},
}

// DetectEye infers the eye tag from the field id and the container text.
func DetectEye(id, text string) Eye {
	s := strings.ToLower(id + " " + text)
	for _, p := range eyePatterns {
		if p.re.MatchString(s) {
			return p.eye
		}
	}
	return EyeNone
}

type sectionPattern struct {
	name string
	re   *regexp.Regexp
}

// sectionPatterns is ordered: the first match wins.
var sectionPatterns = []sectionPattern{
	{"motivo_consulta", regexp.MustCompile(`reason-for-consulting|motivo`)},
	{"enfermedad_actual", regexp.MustCompile(`current-disease|enfermedad`)},
	{"antecedentes", regexp.MustCompile(`background|antecedente`)},
	{"presion", regexp.MustCompile(`presion|pio|tonometria|intraocular`)},
	{"agudeza", regexp.MustCompile(`agudeza|visual-acuity|av-`)},
	{"refraccion", regexp.MustCompile(`refraccion|refraction`)},
	{"biomicroscopia", regexp.MustCompile(`biomicroscop|lampara|slit-lamp`)},
	{"cornea", regexp.MustCompile(`cornea`)},
	{"conjuntiva", regexp.MustCompile(`conjuntiva`)},
	{"iris", regexp.MustCompile(`iris`)},
	{"pupila", regexp.MustCompile(`pupila`)},
	{"cristalino", regexp.MustCompile(`cristalino|lens`)},
	{"retina", regexp.MustCompile(`retina`)},
	{"vitreo", regexp.MustCompile(`vitreo`)},
	{"nervio", regexp.MustCompile(`nervio|optic-nerve`)},
	{"macula", regexp.MustCompile(`macula`)},
	{"parpado", regexp.MustCompile(`parpado|eyelid`)},
	{"fondo", regexp.MustCompile(`fondo|fundus`)},
	{"diagnostico", regexp.MustCompile(`diagnostic|diagnos`)},
	{"plan", regexp.MustCompile(`plan|treatment`)},
	{"externo", regexp.MustCompile(`externo|external`)},
	{"balance", regexp.MustCompile(`balance|muscular`)},
	{"pupilometria", regexp.MustCompile(`pupilometria`)},
	{"gonioscopia", regexp.MustCompile(`gonioscopia`)},
}

// DetectSection returns the first section whose pattern matches id.
func DetectSection(id string) string {
	s := strings.ToLower(id)
	for _, p := range sectionPatterns {
		if p.re.MatchString(s) {
			return p.name
		}
	}
	return ""
}

// ExtractOptions lists the option labels of a select or listbox found at or
// inside container. Options with an empty value are placeholders and are
// skipped.
func ExtractOptions(container dom.Node) []string {
	sel := container
	if sel.Tag() != "select" {
		sel = container.Query("select")
	}
	if sel != nil {
		var out []string
		for _, opt := range sel.QueryAll("option") {
			if opt.Value() == "" {
				continue
			}
			out = append(out, opt.Text())
		}
		return out
	}
	lb := container
	if !lb.Matches(`[role="listbox"]`) {
		lb = container.Query(`[role="listbox"]`)
	}
	if lb != nil {
		var out []string
		for _, opt := range lb.QueryAll(`[role="option"]`) {
			out = append(out, opt.Text())
		}
		return out
	}
	return nil
}
