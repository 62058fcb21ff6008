// Package aggregator merges interface statistics into the controller model.
package aggregator

import (
	"sync"

	monerrors "github.com/rcourtman/fabricpulse/internal/errors"
	"github.com/rcourtman/fabricpulse/internal/models"
	"github.com/rs/zerolog/log"
)

// Stats summarizes what the aggregator applied.
type Stats struct {
	Recorded    int `json:"recorded"`
	Overwritten int `json:"overwritten"`
	Unknown     int `json:"unknown"`
}

type update struct {
	key       models.AggregationKey
	direction models.Direction
	attrs     map[string]string
}

type slot struct {
	iface   *models.Interface
	ingress bool
	egress  bool
}

// Aggregator owns the only write path into Interface statistics. Workers call
// Record with their results; a single goroutine applies them.
type Aggregator struct {
	index   map[models.AggregationKey]*slot
	updates chan update
	done    chan struct{}

	mu     sync.RWMutex // held for reading around every send
	frozen bool

	stats Stats
}

// New indexes every interface of the given controllers and starts the writer.
func New(controllers []*models.Controller) *Aggregator {
	a := &Aggregator{
		index:   make(map[models.AggregationKey]*slot),
		updates: make(chan update, 64),
		done:    make(chan struct{}),
	}

	for _, c := range controllers {
		for _, node := range c.Nodes() {
			for _, iface := range node.Interfaces {
				key := models.AggregationKey{Controller: c.Name, Node: node.ID, Interface: iface.ID}
				if _, exists := a.index[key]; exists {
					log.Warn().Str("key", key.String()).Msg("Duplicate interface in topology, keeping first")
					continue
				}
				a.index[key] = &slot{iface: iface}
			}
		}
	}

	go a.run()
	return a
}

// Len returns the number of indexed interfaces.
func (a *Aggregator) Len() int {
	return len(a.index)
}

// Record upserts attrs into the ingress or egress mapping of the interface
// identified by key. A second record for the same key and direction replaces
// the first. Recording after Freeze is a ProtocolViolation.
func (a *Aggregator) Record(key models.AggregationKey, direction models.Direction, attrs map[string]string) error {
	if direction != models.DirectionIngress && direction != models.DirectionEgress {
		return monerrors.ProtocolViolation("aggregator_record", "unknown direction %q for %s", direction, key)
	}

	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.frozen {
		return monerrors.ProtocolViolation("aggregator_record", "record for %s after freeze", key)
	}
	a.updates <- update{key: key, direction: direction, attrs: copied}
	return nil
}

func (a *Aggregator) run() {
	defer close(a.done)
	for u := range a.updates {
		a.apply(u)
	}
}

func (a *Aggregator) apply(u update) {
	s, ok := a.index[u.key]
	if !ok {
		a.stats.Unknown++
		log.Warn().
			Str("key", u.key.String()).
			Str("direction", string(u.direction)).
			Msg("Dropping statistics for unknown interface")
		return
	}

	var seen *bool
	switch u.direction {
	case models.DirectionIngress:
		s.iface.Ingress = u.attrs
		seen = &s.ingress
	case models.DirectionEgress:
		s.iface.Egress = u.attrs
		seen = &s.egress
	}

	if *seen {
		a.stats.Overwritten++
		log.Debug().
			Str("key", u.key.String()).
			Str("direction", string(u.direction)).
			Msg("Statistics recorded twice, last write wins")
	}
	*seen = true
	a.stats.Recorded++
}

// Freeze stops accepting records, waits for pending updates to be applied and
// returns the final counts. After Freeze the model is safe to read. Calling it
// again returns the same counts.
func (a *Aggregator) Freeze() Stats {
	a.mu.Lock()
	if !a.frozen {
		a.frozen = true
		close(a.updates)
	}
	a.mu.Unlock()

	<-a.done
	return a.stats
}
