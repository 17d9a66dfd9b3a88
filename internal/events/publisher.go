package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"

	"github.com/ohmvision/camconnect/internal/monitor"
)

// Publisher fans monitor events out to NATS for downstream consumers
// (alerting, audit, dashboards). A nil connection makes it a no-op so
// single-node deployments run without a broker.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
	dedup      *Dedup
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	if subject == "" {
		subject = "camconnect.events"
	}
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		dedup:      NewDedup(4096, 5),
	}
}

// Publish implements monitor.EventSink. Publishing is fire-and-forget
// from the monitor's point of view; failures are logged, never returned.
func (p *Publisher) Publish(evt monitor.Event) {
	if p.conn == nil {
		return
	}
	if p.dedup.IsDuplicate(dedupKey(evt)) {
		return
	}
	go func() {
		if err := p.publish(evt); err != nil {
			log.Printf("Events: publish %s for %s failed: %v", evt.Type, evt.CameraID, err)
		}
	}()
}

func (p *Publisher) publish(evt monitor.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := p.subject + "." + evt.Type
	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Dedup suppresses repeat events inside a short TTL window. The scheduler
// and a manual check can both observe the same transition within a tick.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttlSeconds int) *Dedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{
		cache: c,
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

func (d *Dedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}

// dedupKey identifies an event by what happened, not when: repeats of
// the same transition inside the TTL window are suppressed.
func dedupKey(evt monitor.Event) string {
	return fmt.Sprintf("%s|%s|%s|%s", evt.CameraID, evt.Type, evt.From, evt.To)
}
