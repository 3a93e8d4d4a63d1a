// Package driver maps driver names from configuration to constructors.
//
// Implementations register themselves from an init function:
//
//	func init() { driver.Register("mock", Open) }
//
// and the binary links them in with a blank import.
package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/devicelab-dev/uirunner/pkg/core"
)

// Factory opens a driver handle for one session. device is nil for tests
// that do not lease a device.
type Factory func(device *core.DeviceInfo, options map[string]string) (core.Driver, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a driver available under name. Registering a name twice panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		panic("driver: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("driver: Register called twice for " + name)
	}
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, core.ErrUnknownDriver.WithMessage(fmt.Sprintf("unknown driver %q (available: %v)", name, namesLocked()))
	}
	return f, nil
}

// Open looks up name and opens a driver handle.
func Open(name string, device *core.DeviceInfo, options map[string]string) (core.Driver, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	d, err := f(device, options)
	if err != nil {
		return nil, core.ErrDriverUnavailable.WithCause(err)
	}
	return d, nil
}

// Names lists the registered drivers in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
