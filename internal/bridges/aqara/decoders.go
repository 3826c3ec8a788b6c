package aqara

import (
	"math"
	"strings"
)

// Device models understood by the bridge.
const (
	ModelGateway      = "gateway"
	ModelSensorHT     = "sensor_ht"
	ModelWeather      = "weather.v1"
	ModelMotion       = "motion"
	ModelMotionAQ2    = "sensor_motion.aq2"
	ModelMagnet       = "magnet"
	ModelMagnetAQ2    = "sensor_magnet.aq2"
	ModelCtrlNeutral1 = "ctrl_neutral1"
	ModelCtrlNeutral2 = "ctrl_neutral2"
	ModelCtrlLN1      = "ctrl_ln1"
	ModelCtrlLN2      = "ctrl_ln2"
	ModelPlug         = "plug"
	ModelWallPlug     = "86plug"
	ModelWallSwitch1  = "86sw1"
	ModelWallSwitch2  = "86sw2"
)

// Channel accessory key prefixes. The full key is prefix + sid.
const (
	KeyPrefixLight  = "LW"
	KeyPrefixLight0 = "LW0"
	KeyPrefixLight1 = "LW1"
	KeyPrefixPlug   = "PLUG"
)

// Payload fields and values.
const (
	fieldStatus       = "status"
	fieldNoMotion     = "no_motion"
	fieldTemperature  = "temperature"
	fieldHumidity     = "humidity"
	fieldIllumination = "illumination"
	fieldRGB          = "rgb"

	statusMotion        = "motion"
	statusContactClosed = "close"
	channelOn           = "on"
	channelUnknown      = "unknown"

	climateScale         = 100.0
	rgbColourMask uint32 = 0x00FFFFFF
)

// ChannelForKey returns the switch channel a channel accessory key
// controls. The key must be a channel key prefix followed by deviceID.
func ChannelForKey(key, deviceID string) (string, bool) {
	prefix, found := strings.CutSuffix(key, deviceID)
	if !found || deviceID == "" {
		return "", false
	}
	switch prefix {
	case KeyPrefixLight, KeyPrefixLight0:
		return "channel_0", true
	case KeyPrefixLight1:
		return "channel_1", true
	case KeyPrefixPlug:
		return fieldStatus, true
	}
	return "", false
}

// IsGatewayModel reports whether model names a gateway.
func IsGatewayModel(model string) bool {
	return model == ModelGateway || strings.HasPrefix(model, ModelGateway+".")
}

// IsPlugModel reports whether model names a plug.
func IsPlugModel(model string) bool {
	return model == ModelPlug || model == ModelWallPlug
}

// Message is what a Decoder sees for one read_ack or report.
type Message struct {
	Envelope  *Envelope
	Payload   map[string]any
	GatewayID string
}

// Decoder turns one model's payload into semantic events. It returns nil
// when the payload carries nothing reportable.
type Decoder interface {
	Decode(msg Message) []Event
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(msg Message) []Event

// Decode implements Decoder.
func (f DecoderFunc) Decode(msg Message) []Event { return f(msg) }

// newDecoders builds the model -> decoder table. Switch decoders share the
// bridge's commander table.
func newDecoders(commanders *CommanderTable, logger Logger) map[string]Decoder {
	single := []switchChannel{{name: "channel_0", keyPrefix: KeyPrefixLight}}
	duplex := []switchChannel{
		{name: "channel_0", keyPrefix: KeyPrefixLight0},
		{name: "channel_1", keyPrefix: KeyPrefixLight1},
	}
	plug := []switchChannel{{name: "status", keyPrefix: KeyPrefixPlug}}

	sw := func(channels []switchChannel, momentary bool) Decoder {
		return &switchDecoder{channels: channels, momentary: momentary, commanders: commanders, logger: logger}
	}

	return map[string]Decoder{
		ModelSensorHT:     DecoderFunc(decodeClimate),
		ModelWeather:      DecoderFunc(decodeClimate),
		ModelMotion:       DecoderFunc(decodeMotion),
		ModelMotionAQ2:    DecoderFunc(decodeMotion),
		ModelMagnet:       DecoderFunc(decodeContact),
		ModelMagnetAQ2:    DecoderFunc(decodeContact),
		ModelCtrlNeutral1: sw(single, false),
		ModelCtrlLN1:      sw(single, false),
		ModelCtrlNeutral2: sw(duplex, false),
		ModelCtrlLN2:      sw(duplex, false),
		ModelPlug:         sw(plug, false),
		ModelWallPlug:     sw(plug, false),
		ModelWallSwitch1:  sw(single, true),
		ModelWallSwitch2:  sw(duplex, true),
		ModelGateway:      &gatewayDecoder{commanders: commanders},
	}
}

// decodeClimate scales raw temperature and humidity by 1/100. A channel that
// is absent or not numeric is left nil; a payload with neither yields nothing.
func decodeClimate(msg Message) []Event {
	r := ClimateReading{GatewayID: msg.GatewayID, DeviceID: msg.Envelope.SID}
	if raw, ok := numberField(msg.Payload, fieldTemperature); ok {
		v := raw / climateScale
		r.Temperature = &v
	}
	if raw, ok := numberField(msg.Payload, fieldHumidity); ok {
		v := raw / climateScale
		r.Humidity = &v
	}
	if r.Temperature == nil && r.Humidity == nil {
		return nil
	}
	return []Event{r}
}

// decodeMotion reports motion iff status is "motion". A "no_motion" report
// without status reads as no motion.
func decodeMotion(msg Message) []Event {
	status, ok := stringField(msg.Payload, fieldStatus)
	if !ok {
		if _, idle := msg.Payload[fieldNoMotion]; !idle {
			return nil
		}
	}
	return []Event{MotionReading{
		GatewayID: msg.GatewayID,
		DeviceID:  msg.Envelope.SID,
		Detected:  status == statusMotion,
	}}
}

// decodeContact reports contacted iff status is "close".
func decodeContact(msg Message) []Event {
	status, ok := stringField(msg.Payload, fieldStatus)
	if !ok {
		return nil
	}
	return []Event{ContactReading{
		GatewayID: msg.GatewayID,
		DeviceID:  msg.Envelope.SID,
		Contacted: status == statusContactClosed,
	}}
}

// switchChannel names a payload field and its accessory key prefix.
type switchChannel struct {
	name      string
	keyPrefix string
}

// switchDecoder handles level switches and plugs, and momentary wall
// switches that report clicks.
type switchDecoder struct {
	channels   []switchChannel
	momentary  bool
	commanders *CommanderTable
	logger     Logger
}

// Decode implements Decoder.
//
// A channel reading "unknown" is dropped with a warning and leaves its
// commander untouched. Absent channels are skipped.
func (d *switchDecoder) Decode(msg Message) []Event {
	sid := msg.Envelope.SID
	var events []Event
	for _, ch := range d.channels {
		raw, ok := stringField(msg.Payload, ch.name)
		if !ok {
			continue
		}
		if raw == channelUnknown {
			if d.logger != nil {
				d.logger.Warn("channel state unknown, ignoring",
					"model", msg.Envelope.Model, "device_id", sid, "channel", ch.name,
					"error", ErrUnknownChannelState)
			}
			continue
		}

		c := d.commanders.GetOrInsert(sid, msg.Envelope.Model, ch.name)
		var on bool
		if d.momentary {
			on = c.ToggleValue()
		} else {
			on = raw == channelOn
			c.Update(on)
		}

		events = append(events, SwitchReading{
			GatewayID:  msg.GatewayID,
			DeviceID:   sid,
			ChannelKey: ch.keyPrefix + sid,
			On:         on,
			Handle:     c,
		})
	}
	return events
}

// gatewayDecoder handles the gateway's illumination sensor and light.
type gatewayDecoder struct {
	commanders *CommanderTable
}

// Decode implements Decoder.
func (d *gatewayDecoder) Decode(msg Message) []Event {
	sid := msg.Envelope.SID
	gatewayID := msg.GatewayID
	if gatewayID == "" {
		gatewayID = sid
	}

	var events []Event
	if lux, ok := numberField(msg.Payload, fieldIllumination); ok {
		events = append(events, AmbientLightReading{GatewayID: gatewayID, DeviceID: sid, Lux: lux})
	}
	if raw, ok := numberField(msg.Payload, fieldRGB); ok && raw >= 0 && raw <= math.MaxUint32 {
		rgb := uint32(raw)
		light := d.commanders.Light(sid)
		light.Update(rgb)
		events = append(events, GatewayLightReading{
			GatewayID: gatewayID,
			DeviceID:  sid,
			Light:     DecodeRGB(rgb),
			Handle:    light,
		})
	}
	return events
}

// DecodeRGB unpacks a gateway rgb value. Brightness is bits 24-31 and hue
// is the low 24 bits scaled to 0-360 degrees.
func DecodeRGB(rgb uint32) LightState {
	return LightState{
		On:         rgb != 0,
		Brightness: uint8(rgb >> 24),
		Hue:        float64(rgb&rgbColourMask) / float64(rgbColourMask) * 360,
		RGB:        rgb,
	}
}
