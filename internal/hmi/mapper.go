// Package hmi binds PLC values to display targets.
package hmi

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/ads"
)

var ErrNoBindings = errors.New("mapper needs at least one display target")

// ValueConnector is the part of *ads.Connector a Mapper uses.
type ValueConnector interface {
	Read(address int, t ads.DataType) (ads.Value, error)
	Write(address int, v ads.Value, t ads.DataType) error
}

// DisplayProjector translates a value into display state of target.
type DisplayProjector interface {
	Project(target any, v ads.Value)
}

// ProjectorFunc adapts a function to DisplayProjector.
type ProjectorFunc func(target any, v ads.Value)

func (f ProjectorFunc) Project(target any, v ads.Value) { f(target, v) }

// Owned is implemented by targets that want a reference to their mapper.
type Owned interface {
	SetMapper(m *Mapper)
}

// Binding pairs a display target with the projector that renders into it.
type Binding struct {
	Target    any
	Projector DisplayProjector
}

// Bind creates a binding. A nil projector logs the value.
func Bind(target any, p DisplayProjector) Binding {
	if p == nil {
		p = LogProjector{}
	}
	return Binding{Target: target, Projector: p}
}

// Mapper synchronizes one PLC value with its display targets. It holds no
// lock; callers serialize access.
type Mapper struct {
	id       uuid.UUID
	address  int
	dataType ads.DataType
	bindings []Binding
	hint     string
	rollback bool

	value ads.Value
	valid bool
}

type MapperOption func(*Mapper)

// WithHint sets a diagnostic description such as "M100.2".
func WithHint(hint string) MapperOption {
	return func(m *Mapper) { m.hint = hint }
}

// WithRollbackOnWriteFailure restores the previous cached value when a write
// fails.
func WithRollbackOnWriteFailure() MapperOption {
	return func(m *Mapper) { m.rollback = true }
}

func NewMapper(address int, t ads.DataType, bindings []Binding, opts ...MapperOption) (*Mapper, error) {
	if len(bindings) == 0 {
		return nil, ErrNoBindings
	}
	if !t.Valid() {
		return nil, fmt.Errorf("mapper for address %d: invalid data type", address)
	}

	m := &Mapper{
		id:       uuid.New(),
		address:  address,
		dataType: t,
		bindings: make([]Binding, 0, len(bindings)),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, b := range bindings {
		m.AddBinding(b)
	}
	return m, nil
}

// AddBinding appends a display target after construction.
func (m *Mapper) AddBinding(b Binding) {
	if b.Projector == nil {
		b.Projector = LogProjector{}
	}
	m.bindings = append(m.bindings, b)
	if o, ok := b.Target.(Owned); ok {
		o.SetMapper(m)
	}
}

func (m *Mapper) ID() uuid.UUID { return m.id }

func (m *Mapper) Address() int { return m.address }

func (m *Mapper) DataType() ads.DataType { return m.dataType }

func (m *Mapper) Hint() string { return m.hint }

// Bindings returns a copy of the bindings in order.
func (m *Mapper) Bindings() []Binding {
	out := make([]Binding, len(m.bindings))
	copy(out, m.bindings)
	return out
}

// Value returns the cached value and whether one has been set.
func (m *Mapper) Value() (ads.Value, bool) {
	return m.value, m.valid
}

// Write caches v and writes it to the device. The cache keeps v when the
// write fails unless the mapper was built with WithRollbackOnWriteFailure.
func (m *Mapper) Write(c ValueConnector, v ads.Value) error {
	prev, prevValid := m.value, m.valid
	m.value, m.valid = v, true

	if err := c.Write(m.address, v, m.dataType); err != nil {
		if m.rollback {
			m.value, m.valid = prev, prevValid
		}
		return err
	}
	return nil
}

// Read fetches the value and projects it to every target in binding order.
// On error nothing is projected and the cache is unchanged.
func (m *Mapper) Read(c ValueConnector) (ads.Value, error) {
	v, err := c.Read(m.address, m.dataType)
	if err != nil {
		return nil, err
	}
	for _, b := range m.bindings {
		b.Projector.Project(b.Target, v)
	}
	m.value, m.valid = v, true
	return v, nil
}

func (m *Mapper) String() string {
	if m.hint != "" {
		return fmt.Sprintf("%s@%d (%s)", m.dataType, m.address, m.hint)
	}
	return fmt.Sprintf("%s@%d", m.dataType, m.address)
}

// LogProjector writes the raw value to the log at debug level.
type LogProjector struct {
	Logger *zap.Logger
}

func (p LogProjector) Project(target any, v ads.Value) {
	logger := p.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Debug("Value projected",
		zap.String("target", fmt.Sprintf("%T", target)),
		zap.Any("value", v))
}
