package aqara

import "fmt"

// SendPolicy controls how many copies of each write datagram are sent.
type SendPolicy string

const (
	// SendSingle transmits every write once.
	SendSingle SendPolicy = "single"

	// SendDuplicate transmits every write twice to ride out UDP loss.
	SendDuplicate SendPolicy = "duplicate"
)

// copies returns the number of datagrams per write.
func (p SendPolicy) copies() int {
	if p == SendDuplicate {
		return 2
	}
	return 1
}

// Valid reports whether p is a known policy.
func (p SendPolicy) Valid() bool {
	return p == SendSingle || p == SendDuplicate
}

// defaultGatewayRGB is written when the gateway light is switched on with no
// previously observed colour: full brightness, white.
const defaultGatewayRGB uint32 = 0xFFFFFFFF

// commandWriter builds and transmits an authorised write for one device.
type commandWriter interface {
	writeCommand(model, deviceID string, data map[string]any) error
}

// Commander sends de-duplicated write commands for one device channel.
//
// State changes happen on the bridge's event loop. Send is the only method
// safe to call from other goroutines.
type Commander struct {
	deviceID string
	model    string
	channel  string

	known bool
	last  bool

	writer commandWriter
	exec   func(func())
	logger Logger
}

// DeviceID implements SwitchHandle.
func (c *Commander) DeviceID() string { return c.deviceID }

// Model implements SwitchHandle.
func (c *Commander) Model() string { return c.model }

// Channel implements SwitchHandle.
func (c *Commander) Channel() string { return c.channel }

// LastValue returns the last observed value and whether one is known.
func (c *Commander) LastValue() (on, known bool) {
	return c.last, c.known
}

// Update records a value reported by the device without sending anything.
func (c *Commander) Update(on bool) {
	c.known = true
	c.last = on
}

// ToggleValue flips the last value and returns the new one. An unknown
// value toggles to on.
func (c *Commander) ToggleValue() bool {
	if c.known {
		c.last = !c.last
	} else {
		c.known = true
		c.last = true
	}
	return c.last
}

// Send implements SwitchHandle. The write runs on the event loop; failures
// are logged there.
func (c *Commander) Send(on bool) {
	c.exec(func() {
		if err := c.send(on); err != nil {
			c.logError("switch write failed", err, on)
		}
	})
}

// send performs the write on the calling goroutine. It is a no-op when on
// matches the last observed value.
func (c *Commander) send(on bool) error {
	if c.known && c.last == on {
		if c.logger != nil {
			c.logger.Debug("switch write skipped, value unchanged",
				"device_id", c.deviceID, "channel", c.channel, "on", on)
		}
		return nil
	}

	value := "off"
	if on {
		value = "on"
	}
	if err := c.writer.writeCommand(c.model, c.deviceID, map[string]any{c.channel: value}); err != nil {
		return err
	}
	c.Update(on)
	return nil
}

func (c *Commander) logError(msg string, err error, on bool) {
	if c.logger != nil {
		c.logger.Error(msg, "device_id", c.deviceID, "channel", c.channel, "on", on, "error", err)
	}
}

// commanderKey identifies a device channel.
type commanderKey struct {
	deviceID string
	channel  string
}

// CommanderTable holds every Commander, created lazily per device channel.
// It is owned by the event loop.
type CommanderTable struct {
	commanders map[commanderKey]*Commander
	lights     map[string]*GatewayLight
	writer     commandWriter
	exec       func(func())
	logger     Logger
}

// newCommanderTable creates an empty table. exec schedules work on the
// event loop.
func newCommanderTable(w commandWriter, exec func(func()), logger Logger) *CommanderTable {
	return &CommanderTable{
		commanders: make(map[commanderKey]*Commander),
		lights:     make(map[string]*GatewayLight),
		writer:     w,
		exec:       exec,
		logger:     logger,
	}
}

// GetOrInsert returns the commander for a device channel, creating it when
// absent. A non-empty model replaces the recorded one.
func (t *CommanderTable) GetOrInsert(deviceID, model, channel string) *Commander {
	k := commanderKey{deviceID: deviceID, channel: channel}
	c, ok := t.commanders[k]
	if !ok {
		c = &Commander{
			deviceID: deviceID,
			channel:  channel,
			writer:   t.writer,
			exec:     t.exec,
			logger:   t.logger,
		}
		t.commanders[k] = c
	}
	if model != "" {
		c.model = model
	}
	return c
}

// Lookup returns an existing commander.
func (t *CommanderTable) Lookup(deviceID, channel string) (*Commander, bool) {
	c, ok := t.commanders[commanderKey{deviceID: deviceID, channel: channel}]
	return c, ok
}

// Light returns the gateway light commander for a gateway, creating it when
// absent.
func (t *CommanderTable) Light(gatewayID string) *GatewayLight {
	l, ok := t.lights[gatewayID]
	if !ok {
		l = &GatewayLight{
			deviceID: gatewayID,
			writer:   t.writer,
			exec:     t.exec,
			logger:   t.logger,
		}
		t.lights[gatewayID] = l
	}
	return l
}

// GatewayLight commands the gateway's built-in light through its packed rgb
// value. Bits 24-31 carry brightness; the colour bits are preserved as last
// observed.
type GatewayLight struct {
	deviceID string
	known    bool
	rgb      uint32

	writer commandWriter
	exec   func(func())
	logger Logger
}

// DeviceID implements LightHandle.
func (g *GatewayLight) DeviceID() string { return g.deviceID }

// Update records the rgb value reported by the gateway.
func (g *GatewayLight) Update(rgb uint32) {
	g.known = true
	g.rgb = rgb
}

// RGB returns the last observed rgb value and whether one is known.
func (g *GatewayLight) RGB() (uint32, bool) {
	return g.rgb, g.known
}

// SetOn implements LightHandle.
func (g *GatewayLight) SetOn(on bool) {
	g.exec(func() {
		if err := g.setOn(on); err != nil {
			g.logError("gateway light write failed", err)
		}
	})
}

// SetBrightness implements LightHandle. level is 0-100.
func (g *GatewayLight) SetBrightness(level uint8) {
	g.exec(func() {
		if err := g.setBrightness(level); err != nil {
			g.logError("gateway light brightness write failed", err)
		}
	})
}

func (g *GatewayLight) setOn(on bool) error {
	if !on {
		return g.write(0)
	}
	target := g.rgb
	if !g.known || target == 0 {
		target = defaultGatewayRGB
	}
	return g.write(target)
}

func (g *GatewayLight) setBrightness(level uint8) error {
	if level > 100 {
		return fmt.Errorf("brightness %d out of range 0-100", level)
	}
	return g.write(g.rgb&0x00FFFFFF | uint32(level)<<24)
}

func (g *GatewayLight) write(rgb uint32) error {
	if g.known && g.rgb == rgb {
		return nil
	}
	if err := g.writer.writeCommand(ModelGateway, g.deviceID, map[string]any{"rgb": rgb}); err != nil {
		return err
	}
	g.Update(rgb)
	return nil
}

func (g *GatewayLight) logError(msg string, err error) {
	if g.logger != nil {
		g.logger.Error(msg, "device_id", g.deviceID, "error", err)
	}
}

