package events

import "github.com/ohmvision/camconnect/internal/monitor"

// Fanout delivers each event to every sink in order.
type Fanout []monitor.EventSink

func (f Fanout) Publish(evt monitor.Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Publish(evt)
		}
	}
}
