package fronius_modbus

import (
	"encoding/json"
	"sync"
)

// Value is a single typed data store entry: a number or a text label.
type Value struct {
	num    float64
	text   string
	isText bool
}

func Num(v float64) Value {
	return Value{num: v}
}

func Text(s string) Value {
	return Value{text: s, isText: true}
}

func (v Value) IsText() bool {
	return v.isText
}

func (v Value) Number() float64 {
	return v.num
}

func (v Value) Text() string {
	return v.text
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.isText {
		return json.Marshal(v.text)
	}
	return json.Marshal(v.num)
}

// DataStore is the shared field map written by the device decoders and
// the storage control machine, and read by subscribers. Keys are
// namespaced by device role (i_ inverter, m{n}_ meter, s_ storage,
// unprefixed inverter telemetry). Fields are only ever added or
// overwritten, never removed, so a missing key means the field was never
// successfully read.
type DataStore struct {
	mu   sync.RWMutex
	data map[string]Value
}

func NewDataStore() *DataStore {
	return &DataStore{data: make(map[string]Value)}
}

func (s *DataStore) Put(key string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
}

func (s *DataStore) PutNumber(key string, v float64) {
	s.Put(key, Num(v))
}

func (s *DataStore) PutText(key string, v string) {
	s.Put(key, Text(v))
}

func (s *DataStore) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// NumberAt returns the numeric field as a Number, undefined when the key
// is absent or holds a text value.
func (s *DataStore) NumberAt(key string) Number {
	v, ok := s.Get(key)
	if !ok || v.isText {
		return Undefined()
	}
	return NumberOf(v.num)
}

func (s *DataStore) TextAt(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok || !v.isText {
		return "", false
	}
	return v.text, true
}

// Snapshot returns a point-in-time copy safe to hand to consumers.
func (s *DataStore) Snapshot() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Value, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func (s *DataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
