package accessory

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
)

// Manufacturer is reported for every accessory.
const Manufacturer = "Aqara"

// Key prefixes for accessories not tied to a switch channel. Channel
// accessories use the aqara.KeyPrefix* constants.
const (
	PrefixTemperature  = "Tem"
	PrefixHumidity     = "Hum"
	PrefixMotion       = "Mot"
	PrefixContact      = "Mag"
	PrefixGatewayLight = "GWL"
	PrefixIllumination = "GWI"
)

// Kind classifies an accessory.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindHumidity    Kind = "humidity"
	KindMotion      Kind = "motion"
	KindContact     Kind = "contact"
	KindSwitch      Kind = "switch"
	KindOutlet      Kind = "outlet"
	KindLightbulb   Kind = "lightbulb"
	KindLightSensor Kind = "light_sensor"
)

// Controllable reports whether commands can target this kind.
func (k Kind) Controllable() bool {
	return k == KindSwitch || k == KindOutlet || k == KindLightbulb
}

// State field names.
const (
	StateTemperature = "temperature"
	StateHumidity    = "humidity"
	StateMotion      = "motion"
	StateContact     = "contact"
	StateOn          = "on"
	StateBrightness  = "brightness"
	StateHue         = "hue"
	StateRGB         = "rgb"
	StateLux         = "lux"
)

// uuidNamespace scopes accessory UUIDs so the same key always maps to the
// same UUID across restarts and hosts.
var uuidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://graylogic/aqara/accessory"))

// Accessory is one logical function of an Aqara device.
type Accessory struct {
	UUID         uuid.UUID      `json:"uuid"`
	Key          string         `json:"key"`
	DeviceID     string         `json:"device_id"`
	GatewayID    string         `json:"gateway_id"`
	Model        string         `json:"model"`
	Kind         Kind           `json:"kind"`
	Name         string         `json:"name"`
	Serial       string         `json:"serial"`
	Manufacturer string         `json:"manufacturer"`
	State        map[string]any `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// New creates an accessory with an empty state.
func New(key, deviceID, gatewayID, model string, kind Kind, now time.Time) *Accessory {
	return &Accessory{
		UUID:         UUIDForKey(key),
		Key:          key,
		DeviceID:     deviceID,
		GatewayID:    gatewayID,
		Model:        model,
		Kind:         kind,
		Name:         DisplayName(deviceID),
		Serial:       deviceID,
		Manufacturer: Manufacturer,
		State:        map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UUIDForKey derives the stable name-based UUID of an accessory key.
func UUIDForKey(key string) uuid.UUID {
	return uuid.NewSHA1(uuidNamespace, []byte(key))
}

// DisplayName is the last four characters of a sid.
func DisplayName(sid string) string {
	if len(sid) <= 4 {
		return sid
	}
	return sid[len(sid)-4:]
}

// Clone returns a copy whose state map can be handed to another goroutine.
func (a *Accessory) Clone() *Accessory {
	c := *a
	c.State = maps.Clone(a.State)
	if c.State == nil {
		c.State = map[string]any{}
	}
	return &c
}

// StateMessage renders the accessory for its MQTT state topic.
func (a *Accessory) StateMessage() aqara.StateMessage {
	return aqara.StateMessage{
		Key:       a.Key,
		DeviceID:  a.DeviceID,
		GatewayID: a.GatewayID,
		Kind:      string(a.Kind),
		Name:      a.Name,
		Timestamp: a.UpdatedAt.UTC(),
		State:     a.State,
		Protocol:  aqara.Protocol,
	}
}

// switchKind maps a switch-family model to the kind of its channel accessories.
func switchKind(model string) Kind {
	if aqara.IsPlugModel(model) {
		return KindOutlet
	}
	return KindSwitch
}
