// Package ocppconfig holds the charge point's OCPP configuration keys and persists them as YAML.
package ocppconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ReadOnlyParametersKey lists the keys the central system may not change.
const ReadOnlyParametersKey = "ReadOnlyParameters"

// Well known keys.
const (
	KeyHeartbeatInterval             = "HeartbeatInterval"
	KeyMeterValueSampleInterval      = "MeterValueSampleInterval"
	KeyMeterValuesSampledData        = "MeterValuesSampledData"
	KeyNumberOfConnectors            = "NumberOfConnectors"
	KeyBootNotificationRetryInterval = "BootNotificationRetryInterval"
	KeyMaxBootNotificationRetries    = "MaxBootNotificationRetries"
	KeyModel                         = "Model"
	KeyVendor                        = "Vendor"
	KeyVoltageMin                    = "VoltageMin"
	KeyVoltageMax                    = "VoltageMax"
	KeyCurrentMax                    = "CurrentMax"
	KeyPowerMin                      = "PowerMin"
	KeyPowerGracePeriod              = "PowerGracePeriod"
	KeyLocalAuthorizeOffline         = "LocalAuthorizeOffline"
)

var (
	ErrUnknownKey   = errors.New("ocppconfig: unknown key")
	ErrReadOnly     = errors.New("ocppconfig: key is read-only")
	ErrInvalidValue = errors.New("ocppconfig: invalid value")
)

// Kind is the type of a configuration value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindList
)

// Value is a typed configuration value.
type Value struct {
	Kind Kind
	Str  string
	Int  int
	List []string
}

// String renders the value the way GetConfiguration reports it.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.Itoa(v.Int)
	case KindList:
		return strings.Join(v.List, ",")
	default:
		return v.Str
	}
}

func (v Value) clone() Value {
	if v.List != nil {
		v.List = append([]string(nil), v.List...)
	}
	return v
}

// Int returns an integer value.
func Int(n int) Value { return Value{Kind: KindInt, Int: n} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// List returns a list value.
func List(items ...string) Value { return Value{Kind: KindList, List: items} }

// Entry is one key as exposed to the central system.
type Entry struct {
	Key      string
	Value    Value
	ReadOnly bool
}

// Defaults returns the factory configuration.
func Defaults() map[string]Value {
	return map[string]Value{
		KeyHeartbeatInterval:             Int(30),
		KeyMeterValueSampleInterval:      Int(60),
		KeyMeterValuesSampledData:        List("Energy.Active.Import.Register", "Voltage", "Current.Import", "Power.Active.Import"),
		KeyNumberOfConnectors:            Int(2),
		KeyBootNotificationRetryInterval: Int(10),
		KeyMaxBootNotificationRetries:    Int(5),
		KeyModel:                         String("CP-2x22"),
		KeyVendor:                        String("OpenCharge"),
		KeyVoltageMin:                    Int(200),
		KeyVoltageMax:                    Int(260),
		KeyCurrentMax:                    Int(32),
		KeyPowerMin:                      Int(100),
		KeyPowerGracePeriod:              Int(120),
		KeyLocalAuthorizeOffline:         String("false"),
		ReadOnlyParametersKey:            List(KeyNumberOfConnectors, KeyModel, KeyVendor, ReadOnlyParametersKey),
	}
}

// Store is the authoritative configuration set. Every accepted change is written back to path.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]Value
}

// Open loads path, filling keys missing from the file with defaults. A missing file is created.
func Open(path string, defaults map[string]Value) (*Store, error) {
	s := &Store{path: path, values: make(map[string]Value, len(defaults))}
	for k, v := range defaults {
		s.values[k] = v.clone()
	}

	loaded, err := readFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if path != "" {
			if err := s.save(); err != nil {
				return nil, err
			}
		}
	case err != nil:
		return nil, err
	default:
		for k, v := range loaded {
			s.values[k] = v
		}
	}
	return s, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory(values map[string]Value) *Store {
	s := &Store{values: make(map[string]Value, len(values))}
	for k, v := range values {
		s.values[k] = v.clone()
	}
	return s
}

// Reload re-reads the file, keeping current values for keys it does not mention.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	loaded, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for k, v := range loaded {
		s.values[k] = v
	}
	s.mu.Unlock()
	return nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v.clone(), ok
}

// IntOr returns an integer key, or fallback when missing or not an integer.
func (s *Store) IntOr(key string, fallback int) int {
	v, ok := s.Get(key)
	if !ok || v.Kind != KindInt {
		return fallback
	}
	return v.Int
}

// BoolOr interprets a string key as a boolean.
func (s *Store) BoolOr(key string, fallback bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v.String()))
	if err != nil {
		return fallback
	}
	return parsed
}

// StringOr returns the rendered value of key, or fallback.
func (s *Store) StringOr(key, fallback string) string {
	v, ok := s.Get(key)
	if !ok {
		return fallback
	}
	return v.String()
}

// ListOr returns a list key, or fallback.
func (s *Store) ListOr(key string, fallback []string) []string {
	v, ok := s.Get(key)
	if !ok || v.Kind != KindList {
		return fallback
	}
	return v.List
}

// Entries returns the requested keys (all keys, sorted, when none are given) and the
// requested keys that do not exist.
func (s *Store) Entries(keys ...string) ([]Entry, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readOnly := s.readOnlyLocked()
	if len(keys) == 0 {
		keys = make([]string, 0, len(s.values))
		for k := range s.values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	entries := make([]Entry, 0, len(keys))
	var unknown []string
	for _, k := range keys {
		v, ok := s.values[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		_, ro := readOnly[k]
		entries = append(entries, Entry{Key: k, Value: v.clone(), ReadOnly: ro})
	}
	return entries, unknown
}

// Set changes key from its textual representation, coercing to the existing value's kind,
// and persists the result. Nothing changes when persisting fails.
func (s *Store) Set(key, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ro := s.readOnlyLocked()[key]; ro {
		return fmt.Errorf("%w: %s", ErrReadOnly, key)
	}
	current, ok := s.values[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	next, err := coerce(current.Kind, raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}

	s.values[key] = next
	if err := s.save(); err != nil {
		s.values[key] = current
		return err
	}
	return nil
}

func (s *Store) readOnlyLocked() map[string]struct{} {
	ro := make(map[string]struct{})
	if v, ok := s.values[ReadOnlyParametersKey]; ok {
		for _, k := range v.List {
			ro[k] = struct{}{}
		}
	}
	return ro
}

func coerce(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, err
		}
		return Int(n), nil
	case KindList:
		if raw == "" {
			return List(), nil
		}
		return List(strings.Split(raw, ",")...), nil
	default:
		return String(raw), nil
	}
}

// save writes the file atomically. Caller holds the lock.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	doc := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		switch v.Kind {
		case KindInt:
			doc[k] = v.Int
		case KindList:
			doc[k] = v.List
		default:
			doc[k] = v.Str
		}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ocppconfig: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ocpp-config-*")
	if err != nil {
		return fmt.Errorf("ocppconfig: persist: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("ocppconfig: persist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ocppconfig: persist: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ocppconfig: persist: %w", err)
	}
	return nil
}

func readFile(path string) (map[string]Value, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ocppconfig: decode %s: %w", path, err)
	}

	values := make(map[string]Value, len(doc))
	for k, raw := range doc {
		v, err := fromYAML(raw)
		if err != nil {
			return nil, fmt.Errorf("ocppconfig: key %s: %w", k, err)
		}
		values[k] = v
	}
	return values, nil
}

func fromYAML(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case int:
		return Int(v), nil
	case string:
		return String(v), nil
	case bool:
		return String(strconv.FormatBool(v)), nil
	case float64:
		return String(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case nil:
		return String(""), nil
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}
