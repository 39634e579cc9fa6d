package device

import (
	"context"
	"time"
)

// EventType classifies watch events.
type EventType string

const (
	// EventDiscovered fires when a new unit shows up in discovery.
	EventDiscovered EventType = "discovered"
	// EventError fires when a connected unit vanishes from discovery.
	EventError EventType = "error"
	// EventRemoved fires when an unconnected unit ages out of the registry.
	EventRemoved EventType = "removed"
)

// Event describes one plug-and-play state change observed by Watch.
type Event struct {
	Type   EventType
	Device Device
}

// Watch periodically re-runs Discover and emits events for devices that
// appeared, failed while connected, or were dropped. The channel closes
// when ctx is cancelled. Slow consumers lose events rather than stalling
// the poll loop.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) <-chan Event {
	if interval <= 0 {
		interval = time.Second
	}
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		defer r.logger.Debug("Device watch stopped")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		previous := r.List()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Discover(); err != nil {
					r.logger.Warnf("Discovery failed during watch: %v", err)
					continue
				}
				current := r.List()
				for _, ev := range diffDevices(previous, current) {
					select {
					case events <- ev:
					default:
						r.logger.Debugf("Dropping device event %s for %s: consumer too slow", ev.Type, ev.Device.ID)
					}
				}
				previous = current
			}
		}
	}()

	return events
}

func diffDevices(previous, current []Device) []Event {
	before := make(map[string]Device, len(previous))
	for _, d := range previous {
		before[d.ID] = d
	}
	after := make(map[string]Device, len(current))
	for _, d := range current {
		after[d.ID] = d
	}

	var events []Event
	for id, d := range after {
		prev, existed := before[id]
		switch {
		case !existed:
			events = append(events, Event{Type: EventDiscovered, Device: d})
		case prev.State != StateError && d.State == StateError:
			events = append(events, Event{Type: EventError, Device: d})
		case prev.State == StateError && d.State == StateDiscovered:
			// Reappeared after a failure; surface it like a fresh discovery
			// so listeners can reconnect.
			events = append(events, Event{Type: EventDiscovered, Device: d})
		}
	}
	for id, d := range before {
		if _, exists := after[id]; !exists {
			events = append(events, Event{Type: EventRemoved, Device: d})
		}
	}
	return events
}
