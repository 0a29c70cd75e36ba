package live

import (
	"encoding/json"
	"fmt"
)

// Publish JSON-encodes msg and publishes it on subject.
func Publish[T any](c *Context, subject string, msg T) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", subject, err)
	}
	return c.Publish(subject, data)
}

// Subscribe decodes each message on subject as T and calls handler.
// Messages that do not decode are skipped.
func Subscribe[T any](c *Context, subject string, handler func(T)) (Subscription, error) {
	return c.Subscribe(subject, func(data []byte) {
		var msg T
		if err := json.Unmarshal(data, &msg); err != nil {
			c.app.logDebug(c, "dropping undecodable %s message: %v", subject, err)
			return
		}
		handler(msg)
	})
}
