package session

import (
	"sort"

	"github.com/devicelab-dev/uirunner/pkg/jsengine"
)

// ValueStore maps names to string values for one session. Later writes
// overwrite earlier ones. Every value is mirrored into the session's JS
// engine so ${name} resolves to it.
type ValueStore struct {
	values map[string]string
	js     *jsengine.Engine
}

// NewValueStore creates an empty store. js may be nil.
func NewValueStore(js *jsengine.Engine) *ValueStore {
	return &ValueStore{values: make(map[string]string), js: js}
}

// Set stores value under name.
func (v *ValueStore) Set(name, value string) {
	v.values[name] = value
	if v.js != nil {
		v.js.SetVariable(name, value)
	}
}

// Get returns the value stored under name.
func (v *ValueStore) Get(name string) (string, bool) {
	value, ok := v.values[name]
	return value, ok
}

// Len returns the number of stored names.
func (v *ValueStore) Len() int {
	return len(v.values)
}

// Names returns the stored names in sorted order.
func (v *ValueStore) Names() []string {
	names := make([]string, 0, len(v.values))
	for name := range v.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
