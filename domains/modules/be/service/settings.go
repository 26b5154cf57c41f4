package service

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Settings defaults.
const (
	DefaultSlotMinutes = 30
	DefaultTimezone    = "America/Mexico_City"
	DefaultTheme       = "light"
	DefaultCurrency    = "MXN"
)

// Window is a weekly time range as stored in settings. Weekday is Sunday-first (0 = Sunday).
type Window struct {
	Weekday int    `json:"weekday"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// AppointmentsSettings configures the appointments module.
type AppointmentsSettings struct {
	BusinessHours []Window `json:"businessHours,omitempty"`
	Breaks        []Window `json:"breaks,omitempty"`
	SlotMinutes   int      `json:"slotMinutes,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
	BufferMinutes int      `json:"bufferMinutes,omitempty"`

	// Ignored lists stored keys (or window entries such as "breaks[2]") whose values did not
	// fit their type and were left at their defaults.
	Ignored []string `json:"-"`
}

// Location returns the configured timezone, falling back to the default.
func (s AppointmentsSettings) Location() *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// LinkInBioSettings configures the public link page.
type LinkInBioSettings struct {
	Title     string `json:"title,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Theme     string `json:"theme,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	Ignored []string `json:"-"`
}

// InvoicesSettings configures invoice numbering.
type InvoicesSettings struct {
	Prefix     string `json:"prefix,omitempty"`
	NextNumber int    `json:"nextNumber,omitempty"`
	Currency   string `json:"currency,omitempty"`

	Ignored []string `json:"-"`
}

// DecodeAppointmentsSettings reads a stored document and applies defaults.
func DecodeAppointmentsSettings(raw json.RawMessage) (AppointmentsSettings, error) {
	var s AppointmentsSettings
	ignored, err := decodeSettings(raw, map[string]any{
		"businessHours": &s.BusinessHours,
		"breaks":        &s.Breaks,
		"slotMinutes":   &s.SlotMinutes,
		"timezone":      &s.Timezone,
		"bufferMinutes": &s.BufferMinutes,
	})
	if err != nil {
		return AppointmentsSettings{}, err
	}
	s.Ignored = ignored
	if s.SlotMinutes <= 0 {
		s.SlotMinutes = DefaultSlotMinutes
	}
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	return s, nil
}

// DecodeLinkInBioSettings reads a stored document and applies defaults.
func DecodeLinkInBioSettings(raw json.RawMessage) (LinkInBioSettings, error) {
	var s LinkInBioSettings
	ignored, err := decodeSettings(raw, map[string]any{
		"title":     &s.Title,
		"bio":       &s.Bio,
		"theme":     &s.Theme,
		"avatarUrl": &s.AvatarURL,
	})
	if err != nil {
		return LinkInBioSettings{}, err
	}
	s.Ignored = ignored
	if s.Theme == "" {
		s.Theme = DefaultTheme
	}
	return s, nil
}

// DecodeInvoicesSettings reads a stored document and applies defaults.
func DecodeInvoicesSettings(raw json.RawMessage) (InvoicesSettings, error) {
	var s InvoicesSettings
	ignored, err := decodeSettings(raw, map[string]any{
		"prefix":     &s.Prefix,
		"nextNumber": &s.NextNumber,
		"currency":   &s.Currency,
	})
	if err != nil {
		return InvoicesSettings{}, err
	}
	s.Ignored = ignored
	if s.NextNumber < 1 {
		s.NextNumber = 1
	}
	if s.Currency == "" {
		s.Currency = DefaultCurrency
	}
	return s, nil
}

// decodeSettings fills fields key by key. Stored documents predate the schemas, so unknown keys
// are skipped and a value of the wrong type leaves its field at the zero value; those keys are
// returned. Window lists keep their valid entries. Only a document that is not a JSON object
// is an error.
func decodeSettings(raw json.RawMessage, fields map[string]any) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	var ignored []string
	for key, dst := range fields {
		value, ok := doc[key]
		if !ok {
			continue
		}
		switch d := dst.(type) {
		case *[]Window:
			windows, bad, err := decodeWindows(value)
			if err != nil {
				ignored = append(ignored, key)
				continue
			}
			*d = windows
			for _, i := range bad {
				ignored = append(ignored, fmt.Sprintf("%s[%d]", key, i))
			}
		case *int:
			if decodeValue(value, d) != nil {
				ignored = append(ignored, key)
			}
		case *string:
			if decodeValue(value, d) != nil {
				ignored = append(ignored, key)
			}
		default:
			return nil, fmt.Errorf("decode settings: unsupported field type %T for %q", dst, key)
		}
	}
	sort.Strings(ignored)
	return ignored, nil
}

// decodeValue only assigns dst when value decodes cleanly.
func decodeValue[T any](value json.RawMessage, dst *T) error {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeWindows(value json.RawMessage) ([]Window, []int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		return nil, nil, err
	}
	var (
		windows []Window
		bad     []int
	)
	for i, item := range items {
		var w Window
		if err := json.Unmarshal(item, &w); err != nil {
			bad = append(bad, i)
			continue
		}
		windows = append(windows, w)
	}
	return windows, bad, nil
}

// withDefaults decodes the stored document of moduleID into its typed settings.
func withDefaults(moduleID string, raw json.RawMessage) (any, error) {
	switch moduleID {
	case ModuleAppointments:
		return DecodeAppointmentsSettings(raw)
	case ModuleLinkInBio:
		return DecodeLinkInBioSettings(raw)
	case ModuleInvoices:
		return DecodeInvoicesSettings(raw)
	default:
		return nil, fmt.Errorf("module %q: %w", moduleID, ErrUnknownModule)
	}
}

func schemaFor(moduleID string) ([]byte, error) {
	return schemaFS.ReadFile("schemas/" + moduleID + ".json")
}
