package sim

import (
	"errors"
	"sync"
)

var errLineBusy = errors.New("sim: interrupt line already registered")

// Intc is an interrupt controller model that calls handlers synchronously.
type Intc struct {
	mu       sync.Mutex
	handlers map[int]func()
	// Raised counts delivered interrupts per line.
	Raised map[int]int
	// Polarity and Priority record the registration arguments per line.
	Polarity map[int]int
	Priority map[int]int
}

// RegisterAndEnable attaches handler to line. provider is ignored.
func (c *Intc) RegisterAndEnable(provider, line int, handler func(), polarity, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[int]func())
		c.Raised = make(map[int]int)
		c.Polarity = make(map[int]int)
		c.Priority = make(map[int]int)
	}
	if _, ok := c.handlers[line]; ok {
		return errLineBusy
	}
	c.handlers[line] = handler
	c.Polarity[line] = polarity
	c.Priority[line] = priority
	return nil
}

// Raise delivers an interrupt on line and reports whether a handler ran.
func (c *Intc) Raise(line int) bool {
	c.mu.Lock()
	h := c.handlers[line]
	if h != nil {
		c.Raised[line]++
	}
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

// Registered reports whether line has a handler.
func (c *Intc) Registered(line int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[line]
	return ok
}
