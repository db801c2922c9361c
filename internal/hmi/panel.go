package hmi

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

var (
	ErrReadOnly        = errors.New("variable is read-only")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrUnknownWidget   = errors.New("unknown widget")
)

// Variable is one named PLC value of a screen. It is the first display
// target of its mapper.
type Variable struct {
	Name     string
	Address  int
	Type     ads.DataType
	Hint     string
	ReadOnly bool

	mapper *Mapper
}

func (v *Variable) SetMapper(m *Mapper) { v.mapper = m }

func (v *Variable) Mapper() *Mapper { return v.mapper }

// VariableError reports a failed access to a named variable.
type VariableError struct {
	Variable string
	Err      error
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("variable %s: %v", e.Variable, e.Err)
}

func (e *VariableError) Unwrap() error { return e.Err }

// ErrorSink is implemented by attached projectors that also want read
// failures.
type ErrorSink interface {
	ProjectError(v *Variable, err error)
}

// DeviceQuerier is implemented by connectors that can describe the device.
type DeviceQuerier interface {
	DeviceInfo() (ads.DeviceInfo, error)
	DeviceState() (ads.DeviceState, error)
}

// VariableState is a snapshot of a variable and its cached value.
type VariableState struct {
	Name     string           `json:"name"`
	Address  int              `json:"address"`
	Type     string           `json:"type"`
	Hint     string           `json:"hint,omitempty"`
	Access   types.AccessType `json:"access"`
	Value    any              `json:"value"`
	HasValue bool             `json:"has_value"`
}

// Panel is the runtime of one screen: a mapper per variable, widgets bound
// to them, and a mutex serializing all access to the connector.
type Panel struct {
	mu     sync.Mutex
	conn   ValueConnector
	screen *types.ScreenDefinition
	logger *zap.Logger

	variables  []*Variable
	byName     map[string]*Variable
	widgets    []*Widget
	widgetByID map[string]*Widget
	errorSinks []ErrorSink
}

type PanelOption func(*panelOptions)

type panelOptions struct {
	rollback bool
}

// WithWriteRollback builds every mapper with WithRollbackOnWriteFailure.
func WithWriteRollback() PanelOption {
	return func(o *panelOptions) { o.rollback = true }
}

func NewPanel(conn ValueConnector, def *types.ScreenDefinition, logger *zap.Logger, opts ...PanelOption) (*Panel, error) {
	var o panelOptions
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Panel{
		conn:       conn,
		screen:     def,
		logger:     logger,
		byName:     make(map[string]*Variable),
		widgetByID: make(map[string]*Widget),
	}

	for _, vd := range def.Variables {
		v, err := newVariable(vd)
		if err != nil {
			return nil, err
		}
		if _, dup := p.byName[v.Name]; dup {
			return nil, fmt.Errorf("duplicate variable %q", v.Name)
		}

		mopts := []MapperOption{WithHint(v.Hint)}
		if o.rollback {
			mopts = append(mopts, WithRollbackOnWriteFailure())
		}
		if _, err := NewMapper(v.Address, v.Type, []Binding{Bind(v, LogProjector{Logger: logger})}, mopts...); err != nil {
			return nil, fmt.Errorf("variable %s: %w", v.Name, err)
		}

		p.variables = append(p.variables, v)
		p.byName[v.Name] = v
	}

	// Widgets in Definitionsreihenfolge an ihre Variable binden
	for _, wd := range def.Widgets {
		if wd.ID == "" {
			return nil, fmt.Errorf("widget without id")
		}
		if _, dup := p.widgetByID[wd.ID]; dup {
			return nil, fmt.Errorf("duplicate widget %q", wd.ID)
		}
		v, ok := p.byName[wd.Variable]
		if !ok {
			return nil, fmt.Errorf("widget %s: %w %q", wd.ID, ErrUnknownVariable, wd.Variable)
		}
		proj, err := ProjectorFor(wd)
		if err != nil {
			return nil, fmt.Errorf("widget %s: %w", wd.ID, err)
		}

		w := NewWidget(wd)
		v.mapper.AddBinding(Bind(w, proj))
		p.widgets = append(p.widgets, w)
		p.widgetByID[w.ID] = w
	}

	return p, nil
}

func newVariable(vd types.VariableDefinition) (*Variable, error) {
	if vd.Name == "" {
		return nil, fmt.Errorf("variable without name")
	}
	t, err := ads.ParseDataType(vd.Type)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", vd.Name, err)
	}

	var address int
	switch {
	case vd.Address != nil:
		address = *vd.Address
	case vd.Byte != nil:
		if !t.IsBool() {
			return nil, fmt.Errorf("variable %s: byte/bit addressing requires BOOL", vd.Name)
		}
		bit := 0
		if vd.Bit != nil {
			bit = *vd.Bit
		}
		if bit < 0 || bit > 7 {
			return nil, fmt.Errorf("variable %s: bit %d out of range", vd.Name, bit)
		}
		address = ads.BitAddress(*vd.Byte, bit)
	default:
		return nil, fmt.Errorf("variable %s: no address", vd.Name)
	}
	if address < 0 {
		return nil, fmt.Errorf("variable %s: negative address %d", vd.Name, address)
	}

	hint := vd.Hint
	if hint == "" && t.IsBool() {
		hint = fmt.Sprintf("M%d.%d", address/8, address%8)
	}

	return &Variable{
		Name:     vd.Name,
		Address:  address,
		Type:     t,
		Hint:     hint,
		ReadOnly: vd.Access == types.AccessTypeReadOnly,
	}, nil
}

// Screen returns the definition the panel was built from.
func (p *Panel) Screen() *types.ScreenDefinition { return p.screen }

func (p *Panel) Variables() []*Variable {
	out := make([]*Variable, len(p.variables))
	copy(out, p.variables)
	return out
}

func (p *Panel) Variable(name string) (*Variable, error) {
	v, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	return v, nil
}

func (p *Panel) Widgets() []*Widget {
	out := make([]*Widget, len(p.widgets))
	copy(out, p.widgets)
	return out
}

func (p *Panel) Widget(id string) (*Widget, error) {
	w, ok := p.widgetByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	return w, nil
}

// Attach adds proj as a display target binding to every variable. The
// target passed to proj is the *Variable.
func (p *Panel) Attach(proj DisplayProjector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.variables {
		v.mapper.AddBinding(Bind(v, proj))
	}
	if es, ok := proj.(ErrorSink); ok {
		p.errorSinks = append(p.errorSinks, es)
	}
}

// Read reads one variable and projects it to its targets.
func (p *Panel) Read(name string) (ads.Value, error) {
	v, err := p.Variable(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readLocked(v)
}

func (p *Panel) readLocked(v *Variable) (ads.Value, error) {
	val, err := v.mapper.Read(p.conn)
	if err != nil {
		for _, es := range p.errorSinks {
			es.ProjectError(v, err)
		}
		return nil, &VariableError{Variable: v.Name, Err: err}
	}
	return val, nil
}

// ReadAll reads every variable in definition order. Failures do not stop
// the cycle; they are joined into the returned error.
func (p *Panel) ReadAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, v := range p.variables {
		if _, err := p.readLocked(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Write coerces raw to the variable type and writes it. It returns the value
// that was written.
func (p *Panel) Write(name string, raw any) (ads.Value, error) {
	v, err := p.Variable(name)
	if err != nil {
		return nil, err
	}
	if v.ReadOnly {
		return nil, &VariableError{Variable: name, Err: ErrReadOnly}
	}

	val, err := ads.Coerce(raw, v.Type)
	if err != nil {
		return nil, &VariableError{Variable: name, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := v.mapper.Write(p.conn, val); err != nil {
		p.logger.Warn("Write failed",
			zap.String("variable", name),
			zap.Int("address", v.Address),
			zap.Error(err))
		return nil, &VariableError{Variable: name, Err: err}
	}

	p.logger.Debug("Value written",
		zap.String("variable", name),
		zap.Any("value", val))
	return val, nil
}

// Snapshot returns all variables with their cached values.
func (p *Panel) Snapshot() []VariableState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]VariableState, 0, len(p.variables))
	for _, v := range p.variables {
		out = append(out, v.stateLocked())
	}
	return out
}

// State returns the snapshot of one variable.
func (p *Panel) State(name string) (VariableState, error) {
	v, err := p.Variable(name)
	if err != nil {
		return VariableState{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return v.stateLocked(), nil
}

func (v *Variable) stateLocked() VariableState {
	access := types.AccessTypeReadWrite
	if v.ReadOnly {
		access = types.AccessTypeReadOnly
	}
	val, ok := v.mapper.Value()
	return VariableState{
		Name:     v.Name,
		Address:  v.Address,
		Type:     v.Type.String(),
		Hint:     v.Hint,
		Access:   access,
		Value:    ads.Normalize(val),
		HasValue: ok,
	}
}

// Device queries device info and state when the connector supports it.
func (p *Panel) Device() (ads.DeviceInfo, ads.DeviceState, error) {
	q, ok := p.conn.(DeviceQuerier)
	if !ok {
		return ads.DeviceInfo{}, ads.DeviceState{}, ads.ErrNotSupported
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := q.DeviceInfo()
	if err != nil {
		return ads.DeviceInfo{}, ads.DeviceState{}, err
	}
	st, err := q.DeviceState()
	if err != nil {
		return info, ads.DeviceState{}, err
	}
	return info, st, nil
}
