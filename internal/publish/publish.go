// Package publish fans a stored fix out to subscribers over NATS,
// partitioned two ways at once: by aircraft_id (one subject segment
// a subscriber can pin) and by a 1x1 degree geographic cell (another
// segment a subscriber can pin independently), so "every fix for this
// aircraft" and "every fix in this cell" are both plain NATS subject
// subscriptions rather than two separate publish schemes.
package publish

import (
	"encoding/json"
	"log"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"flighttrace/internal/fix"
)

// Publisher is the outbound fan-out contract the pipeline depends on.
type Publisher interface {
	Publish(f *fix.Fix)
	Close()
}

// DefaultQueueSize bounds the background publish channel; beyond this
// the publisher drops rather than blocks the fix-insert hot path.
const DefaultQueueSize = 4096

// subjects builds the two NATS subjects a fix is published on, each a
// topic prefix followed by "fix.<aircraft_id>" (device) and
// "area.<latCell>.<lonCell>" (area) respectively.
func subjects(topicPrefix string, f *fix.Fix) (device, area string) {
	device = topicPrefix + ".fix." + f.AircraftID
	latCell := int(math.Floor(f.Latitude))
	lonCell := int(math.Floor(f.Longitude))
	area = topicPrefix + ".area." + strconv.Itoa(latCell) + "." + strconv.Itoa(lonCell)
	return device, area
}

// NATSPublisher publishes fixes to a NATS subject pair from a single
// background worker reading a bounded channel, so a slow or unreachable
// NATS server never blocks fix insertion.
type NATSPublisher struct {
	conn        *nats.Conn
	topicPrefix string

	queue chan *fix.Fix
	done  chan struct{}

	Published int64
	Dropped   int64
	Errors    int64
}

// NewNATSPublisher connects to NATS at url and starts the background
// publish worker. topicPrefix distinguishes environments the same way
// the originating system's "production" vs "staging.aircraft" prefix did.
func NewNATSPublisher(url, topicPrefix, clientName string, queueSize int) (*NATSPublisher, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	conn, err := nats.Connect(url, nats.Name(clientName))
	if err != nil {
		return nil, err
	}

	p := &NATSPublisher{
		conn:        conn,
		topicPrefix: topicPrefix,
		queue:       make(chan *fix.Fix, queueSize),
		done:        make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *NATSPublisher) run() {
	for f := range p.queue {
		device, area := subjects(p.topicPrefix, f)
		payload, err := json.Marshal(f)
		if err != nil {
			atomic.AddInt64(&p.Errors, 1)
			continue
		}
		if err := p.conn.Publish(device, payload); err != nil {
			log.Printf("publish: device subject %s: %v", device, err)
			atomic.AddInt64(&p.Errors, 1)
		} else {
			atomic.AddInt64(&p.Published, 1)
		}
		if err := p.conn.Publish(area, payload); err != nil {
			log.Printf("publish: area subject %s: %v", area, err)
			atomic.AddInt64(&p.Errors, 1)
		}
	}
	close(p.done)
}

// Publish enqueues f for background publish. It never blocks: when the
// queue is full the fix is dropped and counted, matching the FixStore's
// documented bounded fan-out behavior in spec.md §5.
func (p *NATSPublisher) Publish(f *fix.Fix) {
	select {
	case p.queue <- f:
	default:
		atomic.AddInt64(&p.Dropped, 1)
	}
}

// Close drains the queue and disconnects from NATS.
func (p *NATSPublisher) Close() {
	close(p.queue)
	<-p.done
	p.conn.Close()
}

// NoopPublisher discards every fix; used when no NATS URL is configured
// (e.g. local development with cmd/flighttrace -local).
type NoopPublisher struct{}

func (NoopPublisher) Publish(*fix.Fix) {}
func (NoopPublisher) Close()           {}

var _ Publisher = (*NATSPublisher)(nil)
var _ Publisher = NoopPublisher{}
