package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SettingsCommand is a decoded inline-keyboard action. Callback payloads
// arrive as prefix-tagged strings ("model_...", "temp_0.7"); they are
// decoded exactly once at the transport boundary and dispatched with a type
// switch from then on.
type SettingsCommand interface {
	isSettingsCommand()
}

type SelectModel struct{ Name string }

type SelectTemperature struct{ Value float64 }

type SelectTokenBudget struct{ Limit int }

type SelectMode struct{ Name string }

type SelectLanguage struct{ Code string }

type ExportHistory struct{ Format string }

type ClearHistory struct{ Confirmed bool }

func (SelectModel) isSettingsCommand()       {}
func (SelectTemperature) isSettingsCommand() {}
func (SelectTokenBudget) isSettingsCommand() {}
func (SelectMode) isSettingsCommand()        {}
func (SelectLanguage) isSettingsCommand()    {}
func (ExportHistory) isSettingsCommand()     {}
func (ClearHistory) isSettingsCommand()      {}

// ParseSettingsCommand decodes raw callback data into a SettingsCommand.
// Unknown prefixes and malformed values are rejected here so the service
// layer only ever sees well-formed commands.
func ParseSettingsCommand(data string) (SettingsCommand, error) {
	switch {
	case strings.HasPrefix(data, "model_"):
		name := strings.TrimPrefix(data, "model_")
		if name == "" {
			return nil, fmt.Errorf("empty model name in callback %q", data)
		}
		return SelectModel{Name: name}, nil

	case strings.HasPrefix(data, "temp_"):
		raw := strings.TrimPrefix(data, "temp_")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature in callback %q: %w", data, err)
		}
		if v < 0 || v > 2 {
			return nil, fmt.Errorf("temperature %g out of range", v)
		}
		return SelectTemperature{Value: v}, nil

	case strings.HasPrefix(data, "tokens_"):
		raw := strings.TrimPrefix(data, "tokens_")
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid token budget in callback %q: %w", data, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("token budget must be positive, got %d", n)
		}
		return SelectTokenBudget{Limit: n}, nil

	case strings.HasPrefix(data, "mode_"):
		name := strings.TrimPrefix(data, "mode_")
		if name == "" {
			return nil, fmt.Errorf("empty mode name in callback %q", data)
		}
		return SelectMode{Name: name}, nil

	case strings.HasPrefix(data, "lang_"):
		code := strings.TrimPrefix(data, "lang_")
		if code == "" {
			return nil, fmt.Errorf("empty language code in callback %q", data)
		}
		return SelectLanguage{Code: code}, nil

	case strings.HasPrefix(data, "export_"):
		return ExportHistory{Format: strings.TrimPrefix(data, "export_")}, nil

	case data == "clear_confirm":
		return ClearHistory{Confirmed: true}, nil

	case data == "clear_cancel":
		return ClearHistory{Confirmed: false}, nil
	}

	return nil, fmt.Errorf("unrecognized callback data %q", data)
}
