// Package mqtt owns the broker connection and the topic layout for asset
// attribute traffic.
package mqtt

import (
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// AttributeTopic is the wildcard subscription for inbound attribute updates.
// Messages carry a JSON object of attribute name to value.
const AttributeTopic = "assets/+/attributes"

// NewClient connects to the broker with automatic reconnection.
func NewClient(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// WriteTopic is where write-attribute actions publish for an asset.
func WriteTopic(assetID string) string {
	return fmt.Sprintf("assets/%s/attributes/write", assetID)
}

// AssetIDFromTopic extracts the asset id from an attribute topic.
func AssetIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
