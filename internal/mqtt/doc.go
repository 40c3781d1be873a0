// Package mqtt connects the bridge to the broker the AuraLink display
// talks to. It subscribes to the sensor topic, hands each inbound
// reading to a [MessageHandler], and publishes responses.
//
// The client uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. The sensor subscription is
// (re-)established in every OnConnectionUp callback, so a broker restart
// does not silently stop delivery.
package mqtt
