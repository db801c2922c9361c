// Package tui renders a screen in the terminal. Every widget of the panel
// becomes a form item: values flow in from the poller, edits are written
// back through the panel.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/system"
)

const pendingBuffer = 64

var ErrNotBound = errors.New("tui: no panel bound")

// App represents the terminal HMI
type App struct {
	app       *tview.Application
	logger    *zap.Logger
	logs      *logWriter
	layout    *tview.Flex
	form      *tview.Form
	logView   *tview.TextView
	statusBar *tview.TextView

	panel *hmi.Panel
	views map[string][]*view // by variable
	order []*view

	// updating suppresses change callbacks while values are projected
	updating bool

	pending chan string

	mu      sync.Mutex
	failing map[string]error
	status  system.SystemStatus
}

// NewApp creates the application and its log pane. Use Logger for every
// component started afterwards so that output lands in the pane instead of
// the terminal.
func NewApp(level zapcore.Level) *App {
	a := &App{
		app:     tview.NewApplication(),
		logs:    newLogWriter(),
		views:   make(map[string][]*view),
		pending: make(chan string, pendingBuffer),
		failing: make(map[string]error),
		status:  system.SystemStatus{State: system.StateInitializing},
	}
	a.logger = newLogger(a.logs, level)

	a.form = tview.NewForm()
	a.form.SetBorder(true).SetTitle("Screen")

	a.logView = tview.NewTextView().SetScrollable(true)
	a.logView.SetBorder(true).SetTitle("Log")

	a.statusBar = tview.NewTextView().SetDynamicColors(true)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.form, 0, 3, true).
		AddItem(a.logView, 8, 1, false).
		AddItem(a.statusBar, 1, 1, false)

	a.setupKeyBindings()
	a.updateStatusBar()
	return a
}

func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Bind builds the form from the panel's widgets and attaches the app as a
// display target.
func (a *App) Bind(panel *hmi.Panel) error {
	screen := panel.Screen()
	a.form.SetTitle(screen.Screen.Title)

	for _, def := range screen.Widgets {
		w, err := panel.Widget(def.ID)
		if err != nil {
			return err
		}
		v, err := a.newView(w, def)
		if err != nil {
			return err
		}
		a.form.AddFormItem(v.item)
		a.views[w.Variable] = append(a.views[w.Variable], v)
		a.order = append(a.order, v)
	}

	a.panel = panel
	panel.Attach(a)
	a.logger.Info("Screen bound",
		zap.String("screen", screen.Screen.ID),
		zap.Int("widgets", len(a.order)))
	return nil
}

// Project is called under the panel lock, it only schedules a refresh.
func (a *App) Project(target any, _ ads.Value) {
	v, ok := target.(*hmi.Variable)
	if !ok {
		return
	}
	a.mu.Lock()
	delete(a.failing, v.Name)
	a.mu.Unlock()
	a.schedule(v.Name)
}

func (a *App) ProjectError(v *hmi.Variable, err error) {
	a.mu.Lock()
	a.failing[v.Name] = err
	a.mu.Unlock()
	a.schedule(v.Name)
}

var (
	_ hmi.DisplayProjector = (*App)(nil)
	_ hmi.ErrorSink        = (*App)(nil)
)

func (a *App) schedule(name string) {
	select {
	case a.pending <- name:
	default:
		// Der nächste Zyklus holt es nach
	}
}

// refresh redraws the views of one variable. UI goroutine only.
func (a *App) refresh(name string) {
	for _, v := range a.views[name] {
		v.refresh(v.widget.State())
	}
	a.updateStatusBar()
}

// submit writes raw to the widget's variable and reads it back so the
// display shows what the PLC holds.
func (a *App) submit(w *hmi.Widget, raw any) error {
	if a.panel == nil {
		return ErrNotBound
	}
	val, err := a.panel.Write(w.Variable, raw)
	if err != nil {
		a.logger.Warn("Write rejected",
			zap.String("widget", w.ID),
			zap.String("variable", w.Variable),
			zap.Error(err))
		a.schedule(w.Variable)
		return err
	}
	a.logger.Info("Value written",
		zap.String("variable", w.Variable),
		zap.Any("value", ads.Normalize(val)))

	if _, err := a.panel.Read(w.Variable); err != nil {
		a.logger.Warn("Read back failed",
			zap.String("variable", w.Variable),
			zap.Error(err))
	}
	return nil
}

func (a *App) readAll() {
	if a.panel == nil {
		return
	}
	if err := a.panel.ReadAll(); err != nil {
		a.logger.Warn("Read failed", zap.Error(err))
	}
}

// Failing returns the variables whose last read failed, sorted.
func (a *App) Failing() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.failing))
	for name := range a.failing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (a *App) setupKeyBindings() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF5:
			go a.readAll()
			return nil
		case tcell.KeyEscape:
			a.app.Stop()
			return nil
		}
		return event
	})
}

func (a *App) setStatus(s system.SystemStatus) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
	a.updateStatusBar()
}

func (a *App) updateStatusBar() {
	a.statusBar.SetText(a.statusText())
}

func (a *App) statusText() string {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()

	color := "yellow"
	switch status.State {
	case system.StateRunning:
		color = "green"
	case system.StateError:
		color = "red"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]%s[-]", color, status.State)
	if status.Error != "" {
		fmt.Fprintf(&b, " %s", tview.Escape(status.Error))
	}
	if failing := a.Failing(); len(failing) > 0 {
		fmt.Fprintf(&b, " | [red]failing: %s[-]", strings.Join(failing, ", "))
	}
	b.WriteString(" | F5 read all | Esc quit")
	return b.String()
}

// Run starts the UI and blocks until the user quits or ctx is done.
// statuses may be nil.
func (a *App) Run(ctx context.Context, statuses <-chan system.SystemStatus) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.pumpLogs(ctx)
	go a.pumpValues(ctx)
	if statuses != nil {
		go a.pumpStatus(ctx, statuses)
	}
	go func() {
		<-ctx.Done()
		a.app.Stop()
	}()

	return a.app.SetRoot(a.layout, true).SetFocus(a.form).Run()
}

func (a *App) pumpLogs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-a.logs.lines:
			a.app.QueueUpdateDraw(func() {
				fmt.Fprint(a.logView, line)
				a.logView.ScrollToEnd()
			})
		}
	}
}

func (a *App) pumpValues(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-a.pending:
			a.app.QueueUpdateDraw(func() { a.refresh(name) })
		}
	}
}

func (a *App) pumpStatus(ctx context.Context, statuses <-chan system.SystemStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-statuses:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() { a.setStatus(s) })
		}
	}
}
