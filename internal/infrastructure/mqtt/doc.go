// Package mqtt connects the controller to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after reconnects
//   - Last Will and Testament (LWT) for offline detection
//   - JSON or CBOR payload encoding
//
// # Topics
//
//	unibus/state/{module}/{category}/{index}    state slot values (retained)
//	unibus/line/{name}/status                   bus line health (retained)
//	unibus/system/status                        controller status and LWT
//	unibus/command/actuator/{kind}/{channel}    actuator channel commands
//	unibus/command/thresholds                   window thresholds
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishValue(mqtt.Topics{}.State("temperature", "temperature", 0), value)
package mqtt
