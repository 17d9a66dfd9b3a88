package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ohmvision/camconnect/internal/monitor"
)

type captureSink struct {
	mu   sync.Mutex
	seen []monitor.Event
}

func (c *captureSink) Publish(evt monitor.Event) {
	c.mu.Lock()
	c.seen = append(c.seen, evt)
	c.mu.Unlock()
}

func TestDedupSuppressesWithinWindow(t *testing.T) {
	d := NewDedup(16, 5)
	id := uuid.New()
	evt := monitor.Event{
		CameraID: id,
		Type:     monitor.EventHealthTransition,
		From:     monitor.LevelGood,
		To:       monitor.LevelOffline,
		At:       time.Now(),
	}

	assert.False(t, d.IsDuplicate(dedupKey(evt)))
	assert.True(t, d.IsDuplicate(dedupKey(evt)))

	// The same transition a few seconds later, still inside the TTL,
	// is suppressed too: the key carries no timestamp.
	later := evt
	later.At = evt.At.Add(3 * time.Second)
	assert.Equal(t, dedupKey(evt), dedupKey(later))
	assert.True(t, d.IsDuplicate(dedupKey(later)))

	// A different transition is not a duplicate.
	evt.To = monitor.LevelGood
	evt.From = monitor.LevelOffline
	assert.False(t, d.IsDuplicate(dedupKey(evt)))
}

func TestDedupEvicts(t *testing.T) {
	d := NewDedup(2, 60)
	assert.False(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))
	assert.False(t, d.IsDuplicate("c")) // evicts a
	assert.False(t, d.IsDuplicate("a"))
}

func TestNilConnectionIsNoop(t *testing.T) {
	p := NewPublisher(nil, "", 3)
	p.Publish(monitor.Event{CameraID: uuid.New(), Type: monitor.EventReconnectGaveUp, At: time.Now()})
}

func TestFanout(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	f := Fanout{a, nil, b}
	f.Publish(monitor.Event{Type: monitor.EventReconnectRecovered, At: time.Now()})
	assert.Len(t, a.seen, 1)
	assert.Len(t, b.seen, 1)
}
