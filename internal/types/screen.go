package types

type ScreenDefinition struct {
	Screen    ScreenInfo           `json:"screen" yaml:"screen"`
	Variables []VariableDefinition `json:"variables" yaml:"variables"`
	Widgets   []WidgetDefinition   `json:"widgets,omitempty" yaml:"widgets,omitempty"`
}

type ScreenInfo struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// VariableDefinition names one PLC value. BOOL variables may give byte and
// bit instead of the encoded address.
type VariableDefinition struct {
	Name    string     `json:"name" yaml:"name"`
	Address *int       `json:"address,omitempty" yaml:"address,omitempty"`
	Byte    *int       `json:"byte,omitempty" yaml:"byte,omitempty"`
	Bit     *int       `json:"bit,omitempty" yaml:"bit,omitempty"`
	Type    string     `json:"type" yaml:"type"`
	Hint    string     `json:"hint,omitempty" yaml:"hint,omitempty"`
	Access  AccessType `json:"access,omitempty" yaml:"access,omitempty"`
}

type WidgetDefinition struct {
	ID       string             `json:"id" yaml:"id"`
	Kind     WidgetKind         `json:"kind" yaml:"kind"`
	Variable string             `json:"variable" yaml:"variable"`
	Label    string             `json:"label,omitempty" yaml:"label,omitempty"`
	Format   string             `json:"format,omitempty" yaml:"format,omitempty"`
	Width    int                `json:"width,omitempty" yaml:"width,omitempty"`
	Options  []OptionDefinition `json:"options,omitempty" yaml:"options,omitempty"`
}

type OptionDefinition struct {
	Value int64  `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

type WidgetKind string

const (
	WidgetKindText     WidgetKind = "text"
	WidgetKindCheckbox WidgetKind = "checkbox"
	WidgetKindNumber   WidgetKind = "number"
	WidgetKindBinary   WidgetKind = "binary"
	WidgetKindCombo    WidgetKind = "combo"
)

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeReadWrite AccessType = "read_write"
)

// ScreenSummary is the list view of a screen.
type ScreenSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Variables   int    `json:"variables"`
	Widgets     int    `json:"widgets"`
	Source      string `json:"source"`
}

// Summary returns the list view of d.
func (d *ScreenDefinition) Summary(source string) ScreenSummary {
	return ScreenSummary{
		ID:          d.Screen.ID,
		Title:       d.Screen.Title,
		Description: d.Screen.Description,
		Variables:   len(d.Variables),
		Widgets:     len(d.Widgets),
		Source:      source,
	}
}
