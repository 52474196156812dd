package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Setting keys in the service-scoped settings store.
const (
	SettingEnabled              = "enabled"
	SettingMaxRequestsPerMinute = "max_requests_per_minute"
	SettingMaxRequestsPerHour   = "max_requests_per_hour"
	SettingBlockDuration        = "block_duration_minutes"
	SettingAllowList            = "whitelist_ips"
	SettingDenyList             = "blacklist_ips"

	// SettingTimezone lives in the core scope, not the gate's own scope.
	SettingTimezone = "timezone"
)

// Threshold defaults used whenever a stored value is absent or not a positive integer.
const (
	DefaultMaxRequestsPerMinute = 60
	DefaultMaxRequestsPerHour   = 1000
	DefaultBlockDuration        = 60
)

// Settings is the operator-editable policy for one protected service.
type Settings struct {
	Enabled              bool     `json:"enabled"`
	MaxRequestsPerMinute int      `json:"max_requests_per_minute"`
	MaxRequestsPerHour   int      `json:"max_requests_per_hour"`
	BlockDurationMinutes int      `json:"block_duration_minutes"`
	AllowList            []string `json:"whitelist_ips"`
	DenyList             []string `json:"blacklist_ips"`
}

// InitialSettings is what a fresh installation is seeded with: protection on and
// the loopback addresses allow-listed.
func InitialSettings() Settings {
	return Settings{
		Enabled:              true,
		MaxRequestsPerMinute: DefaultMaxRequestsPerMinute,
		MaxRequestsPerHour:   DefaultMaxRequestsPerHour,
		BlockDurationMinutes: DefaultBlockDuration,
		AllowList:            []string{"127.0.0.1", "::1"},
		DenyList:             []string{},
	}
}

// ParseSettings decodes the raw key-value form. It never fails: malformed
// thresholds fall back to their defaults and malformed lists become empty. The
// keys that needed a fallback are returned so the caller can log them.
func ParseSettings(raw map[string]string) (Settings, []string) {
	var fallbacks []string

	s := Settings{
		Enabled: strings.TrimSpace(raw[SettingEnabled]) == "1",
	}

	threshold := func(key string, def int) int {
		v, ok := raw[key]
		if !ok {
			return def
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			fallbacks = append(fallbacks, key)
			return def
		}
		return n
	}
	s.MaxRequestsPerMinute = threshold(SettingMaxRequestsPerMinute, DefaultMaxRequestsPerMinute)
	s.MaxRequestsPerHour = threshold(SettingMaxRequestsPerHour, DefaultMaxRequestsPerHour)
	s.BlockDurationMinutes = threshold(SettingBlockDuration, DefaultBlockDuration)

	list := func(key string) []string {
		v, ok := raw[key]
		if !ok || strings.TrimSpace(v) == "" {
			return []string{}
		}
		out, err := DecodeAddressList(v)
		if err != nil {
			fallbacks = append(fallbacks, key)
			return []string{}
		}
		return out
	}
	s.AllowList = list(SettingAllowList)
	s.DenyList = list(SettingDenyList)

	return s, fallbacks
}

// ToMap encodes the settings into the raw key-value form.
func (s Settings) ToMap() map[string]string {
	enabled := "0"
	if s.Enabled {
		enabled = "1"
	}
	return map[string]string{
		SettingEnabled:              enabled,
		SettingMaxRequestsPerMinute: strconv.Itoa(s.MaxRequestsPerMinute),
		SettingMaxRequestsPerHour:   strconv.Itoa(s.MaxRequestsPerHour),
		SettingBlockDuration:        strconv.Itoa(s.BlockDurationMinutes),
		SettingAllowList:            EncodeAddressList(s.AllowList),
		SettingDenyList:             EncodeAddressList(s.DenyList),
	}
}

// DecodeAddressList parses a JSON array of addresses, trimming each entry and
// dropping blanks. Order is preserved.
func DecodeAddressList(v string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(v), &items); err != nil {
		return nil, fmt.Errorf("decode address list: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// EncodeAddressList renders an address list as a JSON array. A nil list encodes as [].
func EncodeAddressList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// NormalizeEnabled maps the accepted truthy forms ("1", 1, true, "true") to "1"
// and everything else to "0".
func NormalizeEnabled(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "1"
		}
	case string:
		if s := strings.TrimSpace(t); s == "1" || s == "true" {
			return "1"
		}
	case int:
		if t == 1 {
			return "1"
		}
	case int64:
		if t == 1 {
			return "1"
		}
	case float64:
		if t == 1 {
			return "1"
		}
	case json.Number:
		if t.String() == "1" {
			return "1"
		}
	}
	return "0"
}

// SettingsValidationError reports keys whose submitted values were rejected.
type SettingsValidationError struct {
	Fields map[string]string
}

func (e *SettingsValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	return fmt.Sprintf("invalid settings: %s", strings.Join(keys, ", "))
}

// EncodeSettingsUpdate turns a loosely typed settings mapping (as submitted by an
// operator) into the raw key-value form. Unknown keys are ignored. Thresholds
// must be positive integers; lists may be arrays or newline/comma separated text.
func EncodeSettingsUpdate(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	invalid := make(map[string]string)

	for key, value := range in {
		switch key {
		case SettingEnabled:
			out[key] = NormalizeEnabled(value)
		case SettingMaxRequestsPerMinute, SettingMaxRequestsPerHour, SettingBlockDuration:
			n, ok := positiveInt(value)
			if !ok {
				invalid[key] = "must be a positive integer"
				continue
			}
			out[key] = strconv.Itoa(n)
		case SettingAllowList, SettingDenyList:
			items, ok := addressItems(value)
			if !ok {
				invalid[key] = "must be a list of addresses"
				continue
			}
			out[key] = EncodeAddressList(items)
		}
	}

	if len(invalid) > 0 {
		return nil, &SettingsValidationError{Fields: invalid}
	}
	return out, nil
}

func positiveInt(v any) (int, bool) {
	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int64:
		n = int(t)
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		n = int(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	return n, n > 0
}

func addressItems(v any) ([]string, bool) {
	var raw []string
	switch t := v.(type) {
	case nil:
		return []string{}, true
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			raw = append(raw, s)
		}
	case string:
		raw = strings.FieldsFunc(t, func(r rune) bool { return r == '\n' || r == ',' || r == '\r' })
	default:
		return nil, false
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, true
}
