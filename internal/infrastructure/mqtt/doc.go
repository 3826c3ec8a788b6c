// Package mqtt connects the Aqara bridge to the Gray Logic broker.
//
// Accessory state is published retained on graylogic/state/aqara/{key}.
// Commands arrive on graylogic/command/aqara/{key} and are acknowledged on
// graylogic/ack/aqara/{key}. The bridge health reporter owns
// graylogic/health/aqara, and the client registers its offline message as
// the connection's last will:
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT,
//	    mqtt.WithWill(aqara.HealthTopic(), lwt),
//	    mqtt.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Sessions are clean, so the client replays its subscriptions itself after
// each reconnect. Use TLS (mqtt.broker.tls) for any broker off the host.
package mqtt
