package tui

import (
	"fmt"

	"github.com/mpataki/automenu/internal/dispatch"
	"github.com/mpataki/automenu/internal/protocol"
)

// SettingLookup answers a script's setting query.
type SettingLookup interface {
	Lookup(key string) (string, bool)
}

// Indicators is the progress and status state scripts drive through the
// protocol. It is only touched on the presentation thread.
type Indicators struct {
	Visible       bool
	Indeterminate bool
	Percent       float64
	Status        string

	// OnChange fires after any handler updates the state.
	OnChange func(*Indicators)
}

// Handlers builds the dispatcher's handler table around ind.
func (ind *Indicators) Handlers(settings SettingLookup) dispatch.Handlers {
	return dispatch.Handlers{
		protocol.HandlerUpdateProgress: ind.changed(func(msg protocol.Message) (string, error) {
			p, ok := msg.Percent()
			if !ok {
				return "", fmt.Errorf("invalid percent %v", msg.Data["percent"])
			}
			ind.Percent = p
			return "", nil
		}),
		protocol.HandlerShowProgress: ind.changed(func(protocol.Message) (string, error) {
			ind.Visible = true
			return "", nil
		}),
		protocol.HandlerHideProgress: ind.changed(func(protocol.Message) (string, error) {
			ind.Visible = false
			return "", nil
		}),
		protocol.HandlerDeterminateProgress: ind.changed(func(protocol.Message) (string, error) {
			ind.Indeterminate = false
			return "", nil
		}),
		protocol.HandlerIndeterminateProgress: ind.changed(func(protocol.Message) (string, error) {
			ind.Indeterminate = true
			return "", nil
		}),
		protocol.HandlerClearStatus: ind.changed(func(protocol.Message) (string, error) {
			ind.Status = ""
			return "", nil
		}),
		protocol.HandlerGetStatus: func(protocol.Message) (string, error) {
			return ind.Status, nil
		},
		protocol.HandlerSetStatus: ind.changed(func(msg protocol.Message) (string, error) {
			text, ok := msg.String("set")
			if !ok {
				return "", fmt.Errorf("status request without text")
			}
			if msg.Bool("append") && ind.Status != "" {
				ind.Status += "\n" + text
			} else {
				ind.Status = text
			}
			return "", nil
		}),
		protocol.HandlerSetting: func(msg protocol.Message) (string, error) {
			key, ok := msg.String("key")
			if !ok {
				return "", fmt.Errorf("setting request without key")
			}
			if settings == nil {
				return "", fmt.Errorf("unknown setting %q", key)
			}
			value, ok := settings.Lookup(key)
			if !ok {
				return "", fmt.Errorf("unknown setting %q", key)
			}
			return value, nil
		},
	}
}

// Reset hides progress and clears the status between runs.
func (ind *Indicators) Reset() {
	ind.Visible = false
	ind.Indeterminate = false
	ind.Percent = 0
	ind.Status = ""
}

func (ind *Indicators) changed(fn dispatch.HandlerFunc) dispatch.HandlerFunc {
	return func(msg protocol.Message) (string, error) {
		reply, err := fn(msg)
		if err == nil && ind.OnChange != nil {
			ind.OnChange(ind)
		}
		return reply, err
	}
}
