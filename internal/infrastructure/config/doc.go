// Package config loads the process configuration of the Aqara bridge:
// database, MQTT, API, InfluxDB, logging and the path of the gateway config.
//
// Values come from defaults, then the YAML file, then GRAYLOGIC_* environment
// variables. Secrets (MQTT password, InfluxDB token) are best supplied through
// the environment. Gateway passwords are not here; they live in the bridge
// config read by the aqara package.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
