package mock

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/driver"
)

func params(kv ...string) []core.Parameter {
	var out []core.Parameter
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, core.Parameter{Name: kv[i], Value: kv[i+1]})
	}
	return out
}

func TestRegistered(t *testing.T) {
	d, err := driver.Open(Name, nil, map[string]string{"failActions": "tap, swipe"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m := d.(*Driver)
	if !m.Config.FailActions["tap"] || !m.Config.FailActions["swipe"] {
		t.Errorf("failActions = %v", m.Config.FailActions)
	}
}

func TestOpenRejectsBadOptions(t *testing.T) {
	for _, opts := range []map[string]string{
		{"failOnCall": "x"},
		{"delay": "soon"},
		{"width": "wide"},
	} {
		if _, err := Open(nil, opts); err == nil {
			t.Errorf("Open(%v) should fail", opts)
		}
	}
}

func TestInvokeScriptedOutcomes(t *testing.T) {
	d := New(Config{
		FailActions:   map[string]bool{"tap": true},
		BrokenActions: map[string]bool{"scroll": true},
		LostActions:   map[string]bool{"reboot": true},
	}, nil)

	tests := []struct {
		action string
		params []core.Parameter
		want   core.Status
	}{
		{"type", params("text", "hello"), core.StatusPassed},
		{"tap", nil, core.StatusFailed},
		{"scroll", nil, core.StatusBroken},
		{"assertEquals", params("expected", "3", "actual", "3"), core.StatusPassed},
		{"assertEquals", params("expected", "3", "actual", "4"), core.StatusFailed},
		{"fail", nil, core.StatusFailed},
		{"sleep", params("duration", "1ms"), core.StatusPassed},
		{"sleep", params("duration", "later"), core.StatusBroken},
		{"draw", params("x", "1"), core.StatusBroken},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			r := d.Invoke(tt.action, tt.params)
			if r.Status != tt.want {
				t.Errorf("Invoke(%s) = %v (%s), want %v", tt.action, r.Status, r.Message, tt.want)
			}
			if len(r.Parameters) != len(tt.params) {
				t.Errorf("parameters not echoed: %v", r.Parameters)
			}
			if r.Start.IsZero() || r.Stop.Before(r.Start) {
				t.Errorf("bad timestamps %v..%v", r.Start, r.Stop)
			}
			if r.Status != core.StatusPassed && len(r.Screenshot) == 0 {
				t.Error("failed result should carry a screenshot")
			}
		})
	}

	r := d.Invoke("reboot", nil)
	if r.Status != core.StatusBroken || !errors.Is(r.Err, core.ErrDeviceLost) {
		t.Errorf("lost action = %v / %v", r.Status, r.Err)
	}
}

func TestInvokeFailOnCall(t *testing.T) {
	d := New(Config{FailOnCall: 2}, nil)
	if r := d.Invoke("a", nil); r.Status != core.StatusPassed {
		t.Fatalf("first call = %v", r.Status)
	}
	if r := d.Invoke("b", nil); r.Status != core.StatusFailed {
		t.Errorf("second call = %v, want failed", r.Status)
	}
}

func TestInvokePanics(t *testing.T) {
	d := New(Config{PanicActions: map[string]bool{"tap": true}}, nil)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	d.Invoke("tap", nil)
}

func TestScreenshotReflectsScreen(t *testing.T) {
	d := New(Config{Width: 20, Height: 10}, &core.DeviceInfo{ID: "emulator-5554"})

	d.Invoke("navigate", params("page", "home"))
	home, err := d.Screenshot()
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(home))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("size = %v", b)
	}

	again, _ := d.Screenshot()
	if !bytes.Equal(home, again) {
		t.Error("same screen should render identically")
	}

	d.Invoke("draw", params("x", "2", "y", "2", "width", "4", "height", "4", "color", "#ff0000"))
	drawn, _ := d.Screenshot()
	if bytes.Equal(home, drawn) {
		t.Error("draw should change the screen")
	}
	decoded, _ := png.Decode(bytes.NewReader(drawn))
	if r, _, _, _ := decoded.At(3, 3).RGBA(); r>>8 != 0xff {
		t.Errorf("drawn pixel red = %d", r>>8)
	}

	d.Invoke("clear", nil)
	cleared, _ := d.Screenshot()
	if !bytes.Equal(home, cleared) {
		t.Error("clear should restore the page")
	}

	d.Invoke("navigate", params("page", "cart"))
	cart, _ := d.Screenshot()
	if bytes.Equal(home, cart) {
		t.Error("different pages should render differently")
	}
	if d.Device().ID != "emulator-5554" {
		t.Errorf("Device() = %+v", d.Device())
	}
}

func TestClose(t *testing.T) {
	d := New(Config{}, nil)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r := d.Invoke("tap", nil); r.Status != core.StatusBroken {
		t.Errorf("Invoke after Close = %v", r.Status)
	}
	if _, err := d.Screenshot(); err == nil {
		t.Error("Screenshot after Close should fail")
	}
}
