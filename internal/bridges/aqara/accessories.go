package aqara

// Accessories is the accessory layer the bridge reports to.
//
// Implementations are called from the bridge's event loop and must not
// block. Handles passed with switch and light reports may be kept and used
// from any goroutine.
type Accessories interface {
	// ReportTemperatureHumidity delivers a climate reading. A nil value means
	// that channel was absent or unreadable in the report.
	ReportTemperatureHumidity(gatewayID, deviceID string, temperature, humidity *float64)

	ReportMotion(gatewayID, deviceID string, detected bool)

	ReportContact(gatewayID, deviceID string, contacted bool)

	// ReportSwitch delivers the state of one switch or plug channel.
	// channelKey identifies the channel accessory, e.g. "LW0"+sid.
	ReportSwitch(gatewayID, deviceID, channelKey string, on bool, handle SwitchHandle)

	// ReportAmbientLight delivers the gateway's illumination sensor value.
	ReportAmbientLight(gatewayID, deviceID string, lux float64)

	// ReportGatewayLight delivers the state of the gateway's night light.
	ReportGatewayLight(gatewayID, deviceID string, light LightState, handle LightHandle)

	// Unregister removes every accessory of a device evicted as stale.
	Unregister(gatewayID, deviceID string)
}

// SwitchHandle lets the accessory layer command one switch channel.
type SwitchHandle interface {
	DeviceID() string
	Model() string
	Channel() string

	// Send requests the channel be switched. It returns immediately; the
	// write is performed on the bridge's event loop.
	Send(on bool)
}

// LightHandle lets the accessory layer command the gateway light.
type LightHandle interface {
	DeviceID() string
	SetOn(on bool)
	SetBrightness(level uint8)
}

// LightState is the decoded gateway light.
type LightState struct {
	On         bool    `json:"on"`
	Brightness uint8   `json:"brightness"`
	Hue        float64 `json:"hue"`
	RGB        uint32  `json:"rgb"`
}

// Event is a semantic reading produced by a Decoder.
type Event interface {
	// Deliver forwards the event to the accessory layer.
	Deliver(a Accessories)
}

// ClimateReading is a temperature and/or humidity reading.
type ClimateReading struct {
	GatewayID   string
	DeviceID    string
	Temperature *float64
	Humidity    *float64
}

func (r ClimateReading) Deliver(a Accessories) {
	a.ReportTemperatureHumidity(r.GatewayID, r.DeviceID, r.Temperature, r.Humidity)
}

// MotionReading reports whether motion was detected.
type MotionReading struct {
	GatewayID string
	DeviceID  string
	Detected  bool
}

func (r MotionReading) Deliver(a Accessories) {
	a.ReportMotion(r.GatewayID, r.DeviceID, r.Detected)
}

// ContactReading reports whether a magnet sensor is closed.
type ContactReading struct {
	GatewayID string
	DeviceID  string
	Contacted bool
}

func (r ContactReading) Deliver(a Accessories) {
	a.ReportContact(r.GatewayID, r.DeviceID, r.Contacted)
}

// SwitchReading reports one switch or plug channel.
type SwitchReading struct {
	GatewayID  string
	DeviceID   string
	ChannelKey string
	On         bool
	Handle     SwitchHandle
}

func (r SwitchReading) Deliver(a Accessories) {
	a.ReportSwitch(r.GatewayID, r.DeviceID, r.ChannelKey, r.On, r.Handle)
}

// AmbientLightReading reports the gateway illumination sensor.
type AmbientLightReading struct {
	GatewayID string
	DeviceID  string
	Lux       float64
}

func (r AmbientLightReading) Deliver(a Accessories) {
	a.ReportAmbientLight(r.GatewayID, r.DeviceID, r.Lux)
}

// GatewayLightReading reports the gateway night light.
type GatewayLightReading struct {
	GatewayID string
	DeviceID  string
	Light     LightState
	Handle    LightHandle
}

func (r GatewayLightReading) Deliver(a Accessories) {
	a.ReportGatewayLight(r.GatewayID, r.DeviceID, r.Light, r.Handle)
}
