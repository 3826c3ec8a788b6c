// Package influxdb keeps the reading history of the Aqara bridge.
//
// Decoded accessory readings go to the "aqara_accessory" measurement, tagged
// with accessory key, device sid, gateway sid and kind. Only numeric and
// boolean fields are kept. Periodic bridge counters go to "aqara_bridge".
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Error("influx write", "error", err) })
//
// Writes are batched by influxdb-client-go and are silently dropped after Close.
package influxdb
