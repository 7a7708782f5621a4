// Package mqtt provides MQTT client connectivity for the session core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The console uses MQTT as its cross-tab broadcast channel: every engine
// instance (one per browsing context) publishes theme mutations to a named
// topic and subscribes to the same topic from every other instance. The
// broker decouples instances from each other; loop prevention happens at
// the message layer via source-id tagging, not here.
//
//	engine instance ↔ MQTT Broker ↔ engine instances (other contexts)
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to theme broadcasts for an organization
//	err = client.Subscribe(mqtt.Topics{}.AllThemeEvents("org-acme"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a theme update
//	topic := mqtt.Topics{}.ThemeUpdate("org-acme")
//	client.Publish(topic, payload, 1, false)
package mqtt
