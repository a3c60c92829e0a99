package overlay

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// Type identifies how an overlay is rendered.
type Type int

const (
	TypeText Type = iota
	TypeImage
	TypeTeletext
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeImage:
		return "image"
	case TypeTeletext:
		return "teletext"
	default:
		return "unknown"
	}
}

// Overlay is a decoded subtitle element shown between Start and Stop.
// A Stop of zero means the overlay stays until replaced.
type Overlay struct {
	Type  Type
	Start time.Duration
	Stop  time.Duration
	Data  []byte
}

// Container holds decoded overlays waiting to be rendered. It is shared by
// the subtitle consumer and the control loop and has its own lock.
type Container struct {
	mu       sync.Mutex
	overlays []*Overlay
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{}
}

// Add appends o. An overlay without a stop time ends the previous
// open-ended overlay of the same type.
func (c *Container) Add(o *Overlay) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, prev := range c.overlays {
		if prev.Type == o.Type && prev.Stop == 0 && prev.Start < o.Start {
			prev.Stop = o.Start
		}
	}
	c.overlays = append(c.overlays, o)
}

// Overlays returns a snapshot of the queued overlays.
func (c *Container) Overlays() []*Overlay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Overlay(nil), c.overlays...)
}

// Remove drops o from the container.
func (c *Container) Remove(o *Overlay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays = lo.Without(c.overlays, o)
}

// Clear drops every overlay.
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays = nil
}

// CleanUp drops overlays that stopped before pts.
func (c *Container) CleanUp(pts time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.overlays)
	c.overlays = lo.Filter(c.overlays, func(o *Overlay, _ int) bool {
		return o.Stop == 0 || o.Stop >= pts
	})
	return before - len(c.overlays)
}

// Size returns the number of queued overlays.
func (c *Container) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overlays)
}

// ContainsType reports whether an overlay of type t is queued.
func (c *Container) ContainsType(t Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.ContainsBy(c.overlays, func(o *Overlay) bool { return o.Type == t })
}

// Active returns the overlays visible at pts.
func (c *Container) Active(pts time.Duration) []*Overlay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Filter(c.overlays, func(o *Overlay, _ int) bool {
		return o.Start <= pts && (o.Stop == 0 || pts < o.Stop)
	})
}
