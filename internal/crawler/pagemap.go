package crawler

// FieldType is the semantic kind of a logical form field.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeTextarea FieldType = "textarea"
	TypeNumber   FieldType = "number"
	TypeSelect   FieldType = "select"
	TypeCheckbox FieldType = "checkbox"
	TypeRadio    FieldType = "radio"
	TypeButton   FieldType = "button"
	TypeUnknown  FieldType = "unknown"
)

// Eye is the ophthalmic side a field refers to.
type Eye string

const (
	EyeNone  Eye = ""
	EyeRight Eye = "OD"
	EyeLeft  Eye = "OI"
	EyeBoth  Eye = "AO"
)

// Field describes one logical form field found by a scan. The JSON shape is
// the structure message the dictation backend expects.
type Field struct {
	ID        string    `json:"data_testid"`
	UniqueKey string    `json:"unique_key"`
	Label     string    `json:"label"`
	Type      FieldType `json:"field_type"`
	Eye       Eye       `json:"eye,omitempty"`
	Section   string    `json:"section,omitempty"`
	Options   []string  `json:"options,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	Tag       string    `json:"tag"`
}

// Registration overrides what a scan infers for a known field id.
type Registration struct {
	Label     string    `yaml:"label"`
	Section   string    `yaml:"section"`
	Type      FieldType `yaml:"field_type"`
	Keywords  []string  `yaml:"keywords"`
	UniqueKey string    `yaml:"unique_key"`
}
