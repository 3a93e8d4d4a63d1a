package driver

import (
	"errors"
	"testing"

	"github.com/devicelab-dev/uirunner/pkg/core"
)

type nopDriver struct{}

func (nopDriver) Invoke(string, []core.Parameter) core.ActionResult { return core.ActionResult{} }
func (nopDriver) Screenshot() ([]byte, error)                      { return nil, nil }
func (nopDriver) Close() error                                      { return nil }

func TestRegisterAndOpen(t *testing.T) {
	var got *core.DeviceInfo
	Register("test-nop", func(device *core.DeviceInfo, options map[string]string) (core.Driver, error) {
		got = device
		return nopDriver{}, nil
	})

	dev := &core.DeviceInfo{ID: "d1"}
	d, err := Open("test-nop", dev, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d == nil || got != dev {
		t.Error("factory did not receive the device")
	}

	found := false
	for _, n := range Names() {
		if n == "test-nop" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v", Names())
	}
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("selenium-grid", nil, nil)
	if !errors.Is(err, core.ErrUnknownDriver) {
		t.Errorf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestOpenFactoryError(t *testing.T) {
	Register("test-broken", func(*core.DeviceInfo, map[string]string) (core.Driver, error) {
		return nil, errors.New("adb not found")
	})
	_, err := Open("test-broken", nil, nil)
	if !errors.Is(err, core.ErrDriverUnavailable) {
		t.Errorf("err = %v, want ErrDriverUnavailable", err)
	}
	if core.StatusOf(err) != core.StatusBroken {
		t.Error("driver start failure should be Broken")
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	f := func(*core.DeviceInfo, map[string]string) (core.Driver, error) { return nopDriver{}, nil }
	Register("test-dup", f)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("test-dup", f)
}
