// Package correlator pairs check-ins with check-outs for fence and beacon
// trigger sources.
//
// A Correlator is not safe for concurrent use. The bridge serializes every
// call through its own lock, so the table has exactly one writer.
package correlator

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
)

// Anomaly labels reported on the correlation_anomalies_total metric.
const (
	AnomalyDuplicateEnter = "duplicate_enter"
	AnomalyStrayExit      = "stray_exit"
	AnomalyExpiringExit   = "expired_exit"
	AnomalyNegativeDwell  = "negative_dwell"
)

type entry struct {
	instance domain.TriggerInstance
	expiring bool
	timer    clockwork.Timer
}

// Correlator holds the table of open trigger instances keyed by (kind, source id).
type Correlator struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	table   map[domain.TriggerKey]*entry
	newID   func() string
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock overrides the time source used when an event carries no
// occurrence time.
func WithClock(c clockwork.Clock) Option {
	return func(co *Correlator) { co.clock = c }
}

// WithIDGenerator overrides instance ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(co *Correlator) { co.newID = fn }
}

// New creates an empty Correlator.
func New(logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Correlator {
	c := &Correlator{
		clock:   domain.Clock(),
		logger:  logger,
		metrics: metrics,
		table:   make(map[domain.TriggerKey]*entry),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enter opens an instance for the event's source. EnteredAt is the event's
// OccurredAt, or the clock's time when the event has none. It returns false
// when an instance is already open for the source; the existing instance,
// including its EnteredAt, is left untouched.
func (c *Correlator) Enter(ev domain.TriggerEvent, tags []string) (domain.TriggerInstance, bool) {
	key := ev.Key()
	if existing, ok := c.table[key]; ok {
		c.logger.Debug("duplicate enter suppressed",
			"kind", key.Kind,
			"source_id", key.SourceID,
			"instance_id", existing.instance.ID,
		)
		c.metrics.Anomalies.WithLabelValues(AnomalyDuplicateEnter).Inc()
		return existing.instance, false
	}

	inst := domain.TriggerInstance{
		ID:           c.newID(),
		Key:          key,
		SourceName:   ev.SourceName,
		Zone:         ev.Zone.Summary(),
		Geometry:     ev.Geometry,
		Proximity:    ev.Proximity,
		Location:     ev.Location,
		WillCheckOut: ev.ExpectsCheckOut(),
		CustomData:   ev.MergedCustomData(),
		Tags:         slices.Clone(tags),
		EnteredAt:    c.timeOf(ev.OccurredAt),
	}
	c.table[key] = &entry{instance: inst, expiring: !inst.WillCheckOut}
	c.metrics.OpenInstances.Set(float64(c.Len()))
	return inst, true
}

// Exit closes the open instance for key at the given time and returns its
// check-out; a zero time means now. It returns false when nothing is open for
// the source, or when the open instance was announced without a check-out;
// such exits are dropped.
func (c *Correlator) Exit(key domain.TriggerKey, at time.Time) (domain.CheckOut, bool) {
	e, ok := c.table[key]
	if !ok {
		c.logger.Info("stray exit dropped", "kind", key.Kind, "source_id", key.SourceID)
		c.metrics.Anomalies.WithLabelValues(AnomalyStrayExit).Inc()
		return domain.CheckOut{}, false
	}
	if e.expiring {
		c.logger.Info("exit for instance without check-out dropped",
			"kind", key.Kind,
			"source_id", key.SourceID,
			"instance_id", e.instance.ID,
		)
		c.metrics.Anomalies.WithLabelValues(AnomalyExpiringExit).Inc()
		return domain.CheckOut{}, false
	}

	now := c.timeOf(at)
	minutes, ok := domain.DwellMinutes(e.instance.EnteredAt, now)
	if !ok {
		c.logger.Warn("negative dwell clamped to zero",
			"kind", key.Kind,
			"source_id", key.SourceID,
			"instance_id", e.instance.ID,
			"entered_at", e.instance.EnteredAt,
			"exited_at", now,
		)
		c.metrics.Anomalies.WithLabelValues(AnomalyNegativeDwell).Inc()
	}

	c.remove(key)
	return domain.NewCheckOut(e.instance, now, minutes), true
}

// ArmExpiry attaches the tag-expiry timer of an instance that expects no
// check-out, so that DiscardAll can stop it.
func (c *Correlator) ArmExpiry(key domain.TriggerKey, instanceID string, timer clockwork.Timer) {
	e, ok := c.table[key]
	if !ok || e.instance.ID != instanceID {
		timer.Stop()
		return
	}
	e.timer = timer
}

// Expire removes an instance that expects no check-out once its tags expire.
// It returns false if the instance is no longer open, for example because the
// session was torn down in the meantime.
func (c *Correlator) Expire(key domain.TriggerKey, instanceID string) (domain.TriggerInstance, bool) {
	e, ok := c.table[key]
	if !ok || e.instance.ID != instanceID || !e.expiring {
		return domain.TriggerInstance{}, false
	}
	c.remove(key)
	return e.instance, true
}

// DiscardAll drops every open instance without producing check-outs and stops
// pending expiry timers. It returns the discarded instances.
func (c *Correlator) DiscardAll() []domain.TriggerInstance {
	discarded := make([]domain.TriggerInstance, 0, len(c.table))
	for _, e := range c.table {
		if e.timer != nil {
			e.timer.Stop()
		}
		discarded = append(discarded, e.instance)
	}
	clear(c.table)
	c.metrics.OpenInstances.Set(0)
	sortByEnteredAt(discarded)
	return discarded
}

// Open returns a snapshot of all open instances ordered by EnteredAt.
func (c *Correlator) Open() []domain.TriggerInstance {
	out := make([]domain.TriggerInstance, 0, len(c.table))
	for _, e := range c.table {
		out = append(out, e.instance)
	}
	sortByEnteredAt(out)
	return out
}

// Len returns the number of open instances.
func (c *Correlator) Len() int {
	return len(c.table)
}

func (c *Correlator) remove(key domain.TriggerKey) {
	delete(c.table, key)
	c.metrics.OpenInstances.Set(float64(c.Len()))
}

// timeOf strips the monotonic reading so dwell compares wall clocks only.
func (c *Correlator) timeOf(at time.Time) time.Time {
	if at.IsZero() {
		at = c.clock.Now()
	}
	return at.Round(0)
}

func sortByEnteredAt(instances []domain.TriggerInstance) {
	slices.SortFunc(instances, func(a, b domain.TriggerInstance) int {
		if n := a.EnteredAt.Compare(b.EnteredAt); n != 0 {
			return n
		}
		return cmp.Compare(a.Key.String(), b.Key.String())
	})
}
