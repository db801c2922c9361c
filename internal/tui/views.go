package tui

import (
	"encoding/json"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

const (
	textWidth   = 24
	numberWidth = 12
)

// view is the terminal rendition of one panel widget.
type view struct {
	widget *hmi.Widget
	item   tview.FormItem

	// refresh copies the rendered widget state into item. It runs on the
	// UI goroutine only.
	refresh func(st hmi.WidgetState)
}

// newView creates the form item for a widget. Edits call submit with the
// raw input, off the UI goroutine.
func (a *App) newView(w *hmi.Widget, def types.WidgetDefinition) (*view, error) {
	v := &view{widget: w}
	label := w.Label + ": "

	switch w.Kind {
	case types.WidgetKindText, types.WidgetKindBinary:
		field := tview.NewInputField().
			SetLabel(label).
			SetFieldWidth(textWidth).
			SetAcceptanceFunc(func(string, rune) bool { return false })
		v.item = field
		v.refresh = func(st hmi.WidgetState) {
			field.SetText(st.Text)
		}

	case types.WidgetKindCheckbox:
		box := tview.NewCheckbox().SetLabel(label)
		box.SetChangedFunc(func(checked bool) {
			if a.updating {
				return
			}
			go a.submit(w, checked)
		})
		v.item = box
		v.refresh = func(st hmi.WidgetState) {
			a.updating = true
			box.SetChecked(st.Checked)
			a.updating = false
		}

	case types.WidgetKindNumber:
		field := tview.NewInputField().
			SetLabel(label).
			SetFieldWidth(numberWidth).
			SetAcceptanceFunc(tview.InputFieldFloat)
		field.SetDoneFunc(func(key tcell.Key) {
			if key != tcell.KeyEnter {
				return
			}
			go a.submit(w, json.Number(field.GetText()))
		})
		v.item = field
		v.refresh = func(st hmi.WidgetState) {
			// Eingabe nicht überschreiben
			if field.HasFocus() {
				return
			}
			field.SetText(st.Text)
		}

	case types.WidgetKindCombo:
		options := def.Options
		labels := make([]string, len(options))
		for i, o := range options {
			labels[i] = o.Label
		}
		drop := tview.NewDropDown().SetLabel(label)
		drop.SetOptions(labels, func(_ string, index int) {
			if a.updating || index < 0 || index >= len(options) {
				return
			}
			go a.submit(w, options[index].Value)
		})
		v.item = drop
		v.refresh = func(st hmi.WidgetState) {
			if current, _ := drop.GetCurrentOption(); current == st.Index {
				return
			}
			a.updating = true
			drop.SetCurrentOption(st.Index)
			a.updating = false
		}

	default:
		return nil, fmt.Errorf("unsupported widget kind %q", w.Kind)
	}
	return v, nil
}
