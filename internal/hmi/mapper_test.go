package hmi

import (
	"errors"
	"testing"

	"github.com/stlehmann/qthmi.ads/internal/ads"
)

type fakeConnector struct {
	value ads.Value
	err   error

	reads  int
	writes []ads.Value
	// onWrite runs inside Write before it returns.
	onWrite func()
}

func (c *fakeConnector) Read(address int, t ads.DataType) (ads.Value, error) {
	c.reads++
	if c.err != nil {
		return nil, &ads.ConnectionError{Op: ads.OpRead, Address: address, Code: 1808}
	}
	return c.value, nil
}

func (c *fakeConnector) Write(address int, v ads.Value, t ads.DataType) error {
	if c.onWrite != nil {
		c.onWrite()
	}
	c.writes = append(c.writes, v)
	if c.err != nil {
		return &ads.ConnectionError{Op: ads.OpWrite, Address: address, Code: 1796}
	}
	c.value = v
	return nil
}

type recordingTarget struct {
	name  string
	log   *[]string
	owner *Mapper
}

func (r *recordingTarget) SetMapper(m *Mapper) { r.owner = m }

type recordingProjector struct{}

func (recordingProjector) Project(target any, v ads.Value) {
	r := target.(*recordingTarget)
	*r.log = append(*r.log, r.name)
}

func newTargets(log *[]string, names ...string) ([]*recordingTarget, []Binding) {
	var targets []*recordingTarget
	var bindings []Binding
	for _, n := range names {
		t := &recordingTarget{name: n, log: log}
		targets = append(targets, t)
		bindings = append(bindings, Bind(t, recordingProjector{}))
	}
	return targets, bindings
}

func TestNewMapperRequiresBindings(t *testing.T) {
	if _, err := NewMapper(0, ads.TypeInt, nil); !errors.Is(err, ErrNoBindings) {
		t.Fatalf("err = %v, want ErrNoBindings", err)
	}
}

func TestNewMapperSetsBackReference(t *testing.T) {
	var log []string
	targets, bindings := newTargets(&log, "a", "b")

	m, err := NewMapper(802, ads.TypeBool, bindings, WithHint("M100.2"))
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	for _, tg := range targets {
		if tg.owner != m {
			t.Errorf("target %s not owned by mapper", tg.name)
		}
	}
	if m.Hint() != "M100.2" || m.Address() != 802 || m.DataType() != ads.TypeBool {
		t.Errorf("mapper = %s", m)
	}
	if _, ok := m.Value(); ok {
		t.Error("fresh mapper has a cached value")
	}
}

func TestSingleBindingIsOneElementCollection(t *testing.T) {
	var log []string
	_, bindings := newTargets(&log, "only")

	m, err := NewMapper(10, ads.TypeInt, bindings[:1])
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Bindings()) != 1 {
		t.Fatalf("bindings = %d, want 1", len(m.Bindings()))
	}
	if _, err := m.Read(&fakeConnector{value: int16(3)}); err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 {
		t.Errorf("projections = %v", log)
	}
}

func TestMapperReadProjectsInOrder(t *testing.T) {
	var log []string
	_, bindings := newTargets(&log, "first", "second", "third")
	m, _ := NewMapper(200, ads.TypeReal, bindings)

	conn := &fakeConnector{value: float32(21.5)}
	v, err := m.Read(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != float32(21.5) {
		t.Errorf("value = %v", v)
	}

	want := []string{"first", "second", "third"}
	if len(log) != len(want) {
		t.Fatalf("projections = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("projection %d = %s, want %s", i, log[i], want[i])
		}
	}
	if cached, ok := m.Value(); !ok || cached != float32(21.5) {
		t.Errorf("cache = %v, %v", cached, ok)
	}
}

func TestMapperReadFailureLeavesState(t *testing.T) {
	var log []string
	_, bindings := newTargets(&log, "a", "b")
	m, _ := NewMapper(50, ads.TypeDInt, bindings)

	conn := &fakeConnector{value: int32(7)}
	if _, err := m.Read(conn); err != nil {
		t.Fatal(err)
	}
	log = log[:0]

	conn.err = errors.New("down")
	_, err := m.Read(conn)

	var ce *ads.ConnectionError
	if !errors.As(err, &ce) || ce.Address != 50 || ce.Code != 1808 || ce.Op != ads.OpRead {
		t.Fatalf("err = %v", err)
	}
	if len(log) != 0 {
		t.Errorf("failed read projected to %v", log)
	}
	if cached, _ := m.Value(); cached != int32(7) {
		t.Errorf("cache = %v, want previous value 7", cached)
	}
}

func TestMapperWriteCachesBeforeConnector(t *testing.T) {
	var log []string
	_, bindings := newTargets(&log, "a")
	m, _ := NewMapper(10, ads.TypeInt, bindings)

	tests := []struct {
		name string
		fail bool
	}{
		{"success", false},
		{"failure", true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := int16(100 + i)
			conn := &fakeConnector{}
			if tt.fail {
				conn.err = errors.New("denied")
			}
			var seen ads.Value
			conn.onWrite = func() { seen, _ = m.Value() }

			err := m.Write(conn, want)
			if tt.fail {
				var ce *ads.ConnectionError
				if !errors.As(err, &ce) || ce.Op != ads.OpWrite || ce.Code != 1796 {
					t.Fatalf("err = %v", err)
				}
			} else if err != nil {
				t.Fatalf("write: %v", err)
			}

			if seen != want {
				t.Errorf("cache during connector call = %v, want %v", seen, want)
			}
			if cached, _ := m.Value(); cached != want {
				t.Errorf("cache after write = %v, want %v", cached, want)
			}
			if len(log) != 0 {
				t.Errorf("write projected to %v", log)
			}
		})
	}
}

func TestMapperRollbackOnWriteFailure(t *testing.T) {
	var log []string
	_, bindings := newTargets(&log, "a")
	m, _ := NewMapper(10, ads.TypeInt, bindings, WithRollbackOnWriteFailure())

	conn := &fakeConnector{value: int16(1)}
	if _, err := m.Read(conn); err != nil {
		t.Fatal(err)
	}

	conn.err = errors.New("denied")
	if err := m.Write(conn, int16(2)); err == nil {
		t.Fatal("expected write error")
	}
	if cached, _ := m.Value(); cached != int16(1) {
		t.Errorf("cache = %v, want rolled back to 1", cached)
	}
}

func TestAddBinding(t *testing.T) {
	var log []string
	targets, bindings := newTargets(&log, "a", "late")
	m, _ := NewMapper(0, ads.TypeUSInt, bindings[:1])
	m.AddBinding(bindings[1])

	if targets[1].owner != m {
		t.Error("late binding not owned")
	}
	m.Read(&fakeConnector{value: uint8(1)})
	if len(log) != 2 || log[1] != "late" {
		t.Errorf("projections = %v", log)
	}
}

func TestBindDefaultsToLogProjector(t *testing.T) {
	b := Bind(struct{}{}, nil)
	if _, ok := b.Projector.(LogProjector); !ok {
		t.Fatalf("projector = %T, want LogProjector", b.Projector)
	}
	// must not panic without a configured logger
	b.Projector.Project(b.Target, int16(1))
}
