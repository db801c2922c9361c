package hmi

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

// Capabilities a display target may offer to projectors.
type (
	TextSetter interface {
		SetText(s string)
	}
	CheckSetter interface {
		SetChecked(on bool)
	}
	NumberSetter interface {
		SetNumber(f float64)
	}
	IndexSetter interface {
		SetIndex(i int, label string)
	}
	// ValueSetter receives the raw value in addition to the rendered state.
	ValueSetter interface {
		SetValue(v ads.Value)
	}
)

// TextProjector renders the value with Format (fmt verbs, default %v).
type TextProjector struct {
	Format string
}

func (p TextProjector) Project(target any, v ads.Value) {
	setValue(target, v)
	if t, ok := target.(TextSetter); ok {
		t.SetText(FormatValue(p.Format, v))
	}
}

// CheckProjector sets the checked state of a checkbox.
type CheckProjector struct{}

func (CheckProjector) Project(target any, v ads.Value) {
	setValue(target, v)
	if t, ok := target.(CheckSetter); ok {
		t.SetChecked(Truthy(v))
	}
}

// NumberProjector hands numeric values to spin boxes and gauges.
type NumberProjector struct{}

func (NumberProjector) Project(target any, v ads.Value) {
	setValue(target, v)
	t, ok := target.(NumberSetter)
	if !ok {
		return
	}
	if f, ok := ToFloat(v); ok {
		t.SetNumber(f)
	}
}

// BinaryProjector renders integers as 0b-prefixed bit strings, zero padded
// to Width digits (default: width of the type).
type BinaryProjector struct {
	Width int
}

func (p BinaryProjector) Project(target any, v ads.Value) {
	setValue(target, v)
	if t, ok := target.(TextSetter); ok {
		t.SetText(FormatBinary(v, p.Width))
	}
}

// ComboProjector selects the option whose value equals the PLC value.
type ComboProjector struct {
	Options []types.OptionDefinition
}

func (p ComboProjector) Project(target any, v ads.Value) {
	setValue(target, v)
	t, ok := target.(IndexSetter)
	if !ok {
		return
	}
	i := OptionIndex(p.Options, v)
	label := ""
	if i >= 0 {
		label = p.Options[i].Label
	}
	t.SetIndex(i, label)
}

func setValue(target any, v ads.Value) {
	if t, ok := target.(ValueSetter); ok {
		t.SetValue(v)
	}
}

// ProjectorFor returns the projector for a widget kind.
func ProjectorFor(def types.WidgetDefinition) (DisplayProjector, error) {
	switch def.Kind {
	case types.WidgetKindText, "":
		return TextProjector{Format: def.Format}, nil
	case types.WidgetKindCheckbox:
		return CheckProjector{}, nil
	case types.WidgetKindNumber:
		return NumberProjector{}, nil
	case types.WidgetKindBinary:
		return BinaryProjector{Width: def.Width}, nil
	case types.WidgetKindCombo:
		return ComboProjector{Options: def.Options}, nil
	}
	return nil, fmt.Errorf("unknown widget kind %q", def.Kind)
}

// FormatValue renders v with a fmt format, or %v when format is empty.
func FormatValue(format string, v ads.Value) string {
	if v == nil {
		return ""
	}
	if format == "" {
		if f, ok := v.(float32); ok {
			return strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return fmt.Sprint(v)
	}
	return fmt.Sprintf(format, v)
}

// Truthy reports whether v is a set BOOL or a non-zero number or a
// non-empty string.
func Truthy(v ads.Value) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case nil:
		return false
	}
	f, ok := ToFloat(v)
	return ok && f != 0
}

// ToFloat converts numeric and boolean values to float64.
func ToFloat(v ads.Value) (float64, bool) {
	switch x := ads.Normalize(v).(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// FormatBinary renders integer values as "0b0101". Other values fall back
// to FormatValue.
func FormatBinary(v ads.Value, width int) string {
	var bits uint64
	size := 0
	switch x := v.(type) {
	case bool:
		if x {
			bits = 1
		}
		size = 1
	case int8:
		bits, size = uint64(uint8(x)), 8
	case uint8:
		bits, size = uint64(x), 8
	case int16:
		bits, size = uint64(uint16(x)), 16
	case uint16:
		bits, size = uint64(x), 16
	case int32:
		bits, size = uint64(uint32(x)), 32
	case uint32:
		bits, size = uint64(x), 32
	case int64:
		bits, size = uint64(x), 64
	case uint64:
		bits, size = x, 64
	default:
		return FormatValue("", v)
	}
	s := strconv.FormatUint(bits, 2)
	if width <= 0 {
		width = size
	}
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return "0b" + s
}

// OptionIndex returns the index of the option matching v, or -1.
func OptionIndex(options []types.OptionDefinition, v ads.Value) int {
	f, ok := ToFloat(v)
	if !ok {
		return -1
	}
	for i, o := range options {
		if float64(o.Value) == f {
			return i
		}
	}
	return -1
}

// Widget is a display target model for one widget of a screen. Its state is
// written by projectors and read by the APIs.
type Widget struct {
	ID       string
	Kind     types.WidgetKind
	Label    string
	Variable string

	mu        sync.RWMutex
	mapper    *Mapper
	text      string
	checked   bool
	number    float64
	index     int
	value     ads.Value
	updatedAt time.Time
}

// WidgetState is a snapshot of a widget.
type WidgetState struct {
	ID        string           `json:"id"`
	Kind      types.WidgetKind `json:"kind"`
	Label     string           `json:"label,omitempty"`
	Variable  string           `json:"variable"`
	Text      string           `json:"text"`
	Checked   bool             `json:"checked"`
	Number    float64          `json:"number"`
	Index     int              `json:"index"`
	Value     any              `json:"value"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewWidget(def types.WidgetDefinition) *Widget {
	kind := def.Kind
	if kind == "" {
		kind = types.WidgetKindText
	}
	label := def.Label
	if label == "" {
		label = def.Variable
	}
	return &Widget{
		ID:       def.ID,
		Kind:     kind,
		Label:    label,
		Variable: def.Variable,
		index:    -1,
	}
}

func (w *Widget) SetMapper(m *Mapper) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mapper = m
}

// Mapper returns the mapper the widget is bound to.
func (w *Widget) Mapper() *Mapper {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mapper
}

func (w *Widget) SetText(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text = s
}

func (w *Widget) SetChecked(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checked = on
	w.text = strconv.FormatBool(on)
}

func (w *Widget) SetNumber(f float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.number = f
	w.text = strconv.FormatFloat(f, 'g', -1, 64)
}

func (w *Widget) SetIndex(i int, label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index = i
	w.text = label
}

func (w *Widget) SetValue(v ads.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.value = v
	w.updatedAt = time.Now()
}

// State returns a copy of the rendered state.
func (w *Widget) State() WidgetState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WidgetState{
		ID:        w.ID,
		Kind:      w.Kind,
		Label:     w.Label,
		Variable:  w.Variable,
		Text:      w.text,
		Checked:   w.checked,
		Number:    w.number,
		Index:     w.index,
		Value:     ads.Normalize(w.value),
		UpdatedAt: w.updatedAt,
	}
}
