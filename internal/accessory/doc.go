// Package accessory is the home-automation side of the Aqara bridge.
//
// The bridge engine (internal/bridges/aqara) decodes gateway reports and
// calls a Manager through the aqara.Accessories interface. The Manager keeps
// one Accessory per logical function of a device (a temperature sensor, one
// wall-switch channel, the gateway light), persists it in SQLite, publishes
// its state retained on graylogic/state/aqara/{key} and records numeric
// readings in InfluxDB.
//
// Commands arrive on graylogic/command/aqara/{key}. The Manager resolves the
// key to the switch or light handle the bridge supplied with the last report
// and acknowledges on graylogic/ack/aqara/{key}.
//
// Accessory keys are a kind prefix followed by the device sid:
//
//	Tem158d0001a2b3c4  temperature of a sensor_ht
//	LW0158d0001a2b3c4  left channel of a ctrl_neutral2
//	GWL34ce00fa1b2c    gateway night light
package accessory
