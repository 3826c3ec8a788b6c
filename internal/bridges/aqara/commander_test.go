package aqara

import (
	"errors"
	"testing"
)

type writtenCommand struct {
	model    string
	deviceID string
	data     map[string]any
}

// fakeWriter implements commandWriter for testing.
type fakeWriter struct {
	writes []writtenCommand
	err    error
}

func (f *fakeWriter) writeCommand(model, deviceID string, data map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, writtenCommand{model: model, deviceID: deviceID, data: data})
	return nil
}

// inline runs scheduled work immediately.
func inline(fn func()) { fn() }

func newTestCommanderTable(w commandWriter) *CommanderTable {
	return newCommanderTable(w, inline, nil)
}

func TestCommanderSend(t *testing.T) {
	w := &fakeWriter{}
	c := newTestCommanderTable(w).GetOrInsert("DEV1", ModelCtrlNeutral1, "channel_0")

	if err := c.send(true); err != nil {
		t.Fatalf("send(true) error: %v", err)
	}
	if len(w.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(w.writes))
	}
	got := w.writes[0]
	if got.model != ModelCtrlNeutral1 || got.deviceID != "DEV1" || got.data["channel_0"] != "on" {
		t.Errorf("write = %+v, want ctrl_neutral1 DEV1 channel_0=on", got)
	}

	on, known := c.LastValue()
	if !known || !on {
		t.Errorf("LastValue() = (%v, %v), want (true, true)", on, known)
	}
}

func TestCommanderSendSkipsUnchanged(t *testing.T) {
	w := &fakeWriter{}
	c := newTestCommanderTable(w).GetOrInsert("DEV1", ModelCtrlNeutral1, "channel_0")
	c.Update(true)

	if err := c.send(true); err != nil {
		t.Fatalf("send(true) error: %v", err)
	}
	if len(w.writes) != 0 {
		t.Errorf("writes = %d, want 0 for unchanged value", len(w.writes))
	}

	if err := c.send(false); err != nil {
		t.Fatalf("send(false) error: %v", err)
	}
	if len(w.writes) != 1 || w.writes[0].data["channel_0"] != "off" {
		t.Errorf("writes = %+v, want one channel_0=off", w.writes)
	}

	// Sending again is idempotent.
	if err := c.send(false); err != nil {
		t.Fatalf("send(false) error: %v", err)
	}
	if len(w.writes) != 1 {
		t.Errorf("writes = %d, want 1 after repeated send", len(w.writes))
	}
}

func TestCommanderSendFailureKeepsValue(t *testing.T) {
	w := &fakeWriter{err: ErrMissingCredentials}
	c := newTestCommanderTable(w).GetOrInsert("DEV1", ModelCtrlNeutral1, "channel_0")
	c.Update(false)

	if err := c.send(true); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("send(true) error = %v, want ErrMissingCredentials", err)
	}
	if on, _ := c.LastValue(); on {
		t.Error("LastValue() = on after failed write, want off")
	}
}

func TestCommanderSendAsync(t *testing.T) {
	w := &fakeWriter{}
	var scheduled []func()
	table := newCommanderTable(w, func(fn func()) { scheduled = append(scheduled, fn) }, nil)
	c := table.GetOrInsert("DEV1", ModelPlug, "status")

	c.Send(true)
	if len(w.writes) != 0 {
		t.Fatal("Send() wrote before the scheduled work ran")
	}
	if len(scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(scheduled))
	}
	scheduled[0]()
	if len(w.writes) != 1 || w.writes[0].data["status"] != "on" {
		t.Errorf("writes = %+v, want one status=on", w.writes)
	}
}

func TestCommanderToggleValue(t *testing.T) {
	c := newTestCommanderTable(&fakeWriter{}).GetOrInsert("SW1", ModelWallSwitch1, "channel_0")

	if !c.ToggleValue() {
		t.Error("ToggleValue() from unknown = false, want true")
	}
	if c.ToggleValue() {
		t.Error("ToggleValue() second = true, want false")
	}
	if !c.ToggleValue() {
		t.Error("ToggleValue() third = false, want true")
	}
}

func TestCommanderTableGetOrInsert(t *testing.T) {
	table := newTestCommanderTable(&fakeWriter{})

	a := table.GetOrInsert("DEV1", ModelCtrlNeutral2, "channel_0")
	b := table.GetOrInsert("DEV1", "", "channel_0")
	if a != b {
		t.Error("GetOrInsert() returned a different commander for the same channel")
	}
	if b.Model() != ModelCtrlNeutral2 {
		t.Errorf("Model() = %q, want %q", b.Model(), ModelCtrlNeutral2)
	}

	c := table.GetOrInsert("DEV1", ModelCtrlNeutral2, "channel_1")
	if a == c {
		t.Error("GetOrInsert() shared a commander across channels")
	}
	if _, ok := table.Lookup("DEV1", "channel_0"); !ok {
		t.Error("Lookup(channel_0) not found")
	}

	if _, ok := table.Lookup("DEV1", "channel_1"); !ok {
		t.Error("Lookup(DEV1, channel_1) not found")
	}
	if _, ok := table.Lookup("DEV2", "channel_0"); ok {
		t.Error("Lookup(DEV2, channel_0) found, want absent")
	}
}

func TestSendPolicy(t *testing.T) {
	tests := []struct {
		policy SendPolicy
		valid  bool
		copies int
	}{
		{SendSingle, true, 1},
		{SendDuplicate, true, 2},
		{"triple", false, 1},
		{"", false, 1},
	}

	for _, tt := range tests {
		if got := tt.policy.Valid(); got != tt.valid {
			t.Errorf("SendPolicy(%q).Valid() = %v, want %v", tt.policy, got, tt.valid)
		}
		if got := tt.policy.copies(); got != tt.copies {
			t.Errorf("SendPolicy(%q).copies() = %d, want %d", tt.policy, got, tt.copies)
		}
	}
}

func TestGatewayLightSetOn(t *testing.T) {
	tests := []struct {
		name    string
		known   bool
		rgb     uint32
		on      bool
		want    uint32
		written bool
	}{
		{"on with unknown value", false, 0, true, 0xFFFFFFFF, true},
		{"on restores last colour", true, 0x3200FF00, true, 0x3200FF00, false},
		{"on after off", true, 0, true, 0xFFFFFFFF, true},
		{"off", true, 0x3200FF00, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			light := newTestCommanderTable(w).Light("GW1")
			if tt.known {
				light.Update(tt.rgb)
			}

			if err := light.setOn(tt.on); err != nil {
				t.Fatalf("setOn(%v) error: %v", tt.on, err)
			}
			if !tt.written {
				if len(w.writes) != 0 {
					t.Errorf("writes = %+v, want none", w.writes)
				}
				return
			}
			if len(w.writes) != 1 {
				t.Fatalf("writes = %d, want 1", len(w.writes))
			}
			if w.writes[0].model != ModelGateway || w.writes[0].deviceID != "GW1" {
				t.Errorf("write target = %s/%s, want gateway/GW1", w.writes[0].model, w.writes[0].deviceID)
			}
			if got := w.writes[0].data["rgb"]; got != tt.want {
				t.Errorf("rgb = %v, want %#x", got, tt.want)
			}
		})
	}
}

func TestGatewayLightSetBrightness(t *testing.T) {
	w := &fakeWriter{}
	light := newTestCommanderTable(w).Light("GW1")
	light.Update(0x6400FF00)

	if err := light.setBrightness(50); err != nil {
		t.Fatalf("setBrightness(50) error: %v", err)
	}
	if len(w.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(w.writes))
	}
	if got := w.writes[0].data["rgb"]; got != uint32(0x3200FF00) {
		t.Errorf("rgb = %v, want %#x", got, uint32(0x3200FF00))
	}
	if rgb, _ := light.RGB(); rgb != 0x3200FF00 {
		t.Errorf("RGB() = %#x, want 0x3200ff00", rgb)
	}

	if err := light.setBrightness(101); err == nil {
		t.Error("setBrightness(101) expected error")
	}
}
