package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ClickSentinel is the value that asks for a click instead of a write.
const ClickSentinel = "click"

// Value is what the mapping service wants written into a field: a literal
// (text, number or boolean) or the click sentinel.
type Value struct {
	text    string
	click   bool
	boolean bool
}

// Text returns a literal value. The string "click" is the click sentinel.
func Text(s string) Value {
	return Value{text: s, click: s == ClickSentinel}
}

// Bool returns a boolean literal.
func Bool(b bool) Value {
	return Value{text: strconv.FormatBool(b), boolean: true}
}

// Click returns the click sentinel.
func Click() Value {
	return Text(ClickSentinel)
}

// IsClick reports whether v is the click sentinel.
func (v Value) IsClick() bool { return v.click }

func (v Value) String() string { return v.text }

// Truthy coerces v for checkbox targets: true, "true", "1", "si" and "sí"
// are true, everything else is false.
func (v Value) Truthy() bool {
	switch strings.ToLower(strings.TrimSpace(v.text)) {
	case "true", "1", "si", "sí":
		return true
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.boolean {
		return []byte(v.text), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts any JSON value. Lists are joined with commas and
// objects are kept as compact JSON, so an odd value reaches the field as
// text instead of failing its whole batch.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = Value{}
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*v = Bool(data[0] == 't')
	default:
		s, err := jsonText(data)
		if err != nil {
			return fmt.Errorf("autofill value %s: %w", data, err)
		}
		*v = Text(s)
	}
	return nil
}

// jsonText renders a JSON value the way a browser stringifies it, except
// that objects stay JSON.
func jsonText(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil
	}
	switch data[0] {
	case '"':
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	case 'n':
		return "", nil
	case 't', 'f':
		return string(data), nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return "", err
		}
		parts := make([]string, len(elems))
		for i, e := range elems {
			p, err := jsonText(e)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		return strings.Join(parts, ","), nil
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Item is one autofill instruction.
type Item struct {
	ID         string  `json:"unique_key"`
	Value      Value   `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ItemsFromMap turns an id to value map into items, ordered by id so batch
// application is deterministic.
func ItemsFromMap(m map[string]Value) []Item {
	items := make([]Item, 0, len(m))
	for id, v := range m {
		items = append(items, Item{ID: id, Value: v})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
