package page

import (
	"fmt"
	"time"
)

// ClickSubject is the pubsub subject every increment is announced on.
const ClickSubject = "creator.counter.clicked"

// Counter is the page's click count. It starts at zero and only goes up by one.
type Counter struct {
	n int
}

func NewCounter() *Counter {
	return &Counter{}
}

// Increment adds one and returns the new value.
func (c *Counter) Increment() int {
	c.n++
	return c.n
}

func (c *Counter) Value() int {
	return c.n
}

// Label is the button text for the current value.
func (c *Counter) Label() string {
	return fmt.Sprintf("Count: %d", c.n)
}

// ClickEvent is published after each increment.
type ClickEvent struct {
	Brand string    `json:"brand"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}
