// Package bridge is the adapter between the location backend and the
// engagement backend.
//
// A Bridge serializes every state change behind one mutex: trigger events
// from the pipeline, Authenticate and Logout from the application,
// authentication completions and tag-expiry timers. Delegate hooks are queued
// while the lock is held and delivered after it is released, in the order
// they were produced. Hooks may call back into the Bridge.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/geotrigger-bridge/internal/correlator"
	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
	"github.com/couchcryptid/geotrigger-bridge/internal/session"
	"github.com/couchcryptid/geotrigger-bridge/internal/tags"
)

// DefaultTagExpiry is how long tags stay on the registration when no
// check-out is expected.
const DefaultTagExpiry = 7 * time.Second

// AnomalyUnauthenticated labels events dropped while no session is active.
const AnomalyUnauthenticated = "unauthenticated"

// Bridge correlates trigger events and forwards them to the delegate and the
// tag publisher while a session is authenticated.
type Bridge struct {
	mu sync.Mutex

	session   *session.Manager
	triggers  *correlator.Correlator
	tags      *tags.Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	tagExpiry time.Duration

	delegate *Delegate
	outbox   []func(*Delegate)
	draining bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock overrides the clock driving tag-expiry timers.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithTagExpiry sets how long tags of instances without a check-out stay applied.
func WithTagExpiry(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.tagExpiry = d
		}
	}
}

// New wires a Bridge from its components.
func New(sm *session.Manager, c *correlator.Correlator, p *tags.Publisher, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Bridge {
	b := &Bridge{
		session:   sm,
		triggers:  c,
		tags:      p,
		clock:     domain.Clock(),
		logger:    logger,
		metrics:   metrics,
		tagExpiry: DefaultTagExpiry,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetDelegate replaces the delegate. Pass nil to remove it.
func (b *Bridge) SetDelegate(d *Delegate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delegate = d
}

// Authenticate starts a session. It returns immediately; the delegate's
// Authenticated hook fires once the location backend accepts the
// credentials. It is a no-op while authenticating or authenticated.
func (b *Bridge) Authenticate(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session.Start(ctx, b.completeAuthentication)
}

func (b *Bridge) completeAuthentication(attempt uint64, err error) {
	b.mu.Lock()
	if b.session.Complete(attempt, err) {
		b.enqueue(notifyAuthenticated(b.session.Current()))
	}
	b.mu.Unlock()
	b.flush()
}

// Logout ends the session and discards open trigger instances without
// check-outs. It is a no-op unless authenticated.
func (b *Bridge) Logout() {
	b.mu.Lock()
	if b.session.Logout() {
		discarded := b.triggers.DiscardAll()
		orphaned := b.tags.Reset()
		b.logger.Info("open triggers discarded",
			"count", len(discarded),
			"orphaned_tag_sets", orphaned,
		)
		b.metrics.OrphanedTagSets.Add(float64(orphaned))
		b.enqueue(notifyLoggedOut)
	}
	b.mu.Unlock()
	b.flush()
}

// HandleEvent applies one trigger event. Events arriving while the session is
// not authenticated are dropped. Duplicate enters and stray exits are
// suppressed; only an invalid event returns an error.
func (b *Bridge) HandleEvent(_ context.Context, ev domain.TriggerEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("handle trigger event: %w", err)
	}

	b.mu.Lock()
	if state := b.session.State(); state != session.Authenticated {
		b.mu.Unlock()
		b.logger.Info("trigger dropped, session not authenticated",
			"state", state,
			"action", ev.Action,
			"kind", ev.Kind,
			"source_id", ev.SourceID,
		)
		b.metrics.Anomalies.WithLabelValues(AnomalyUnauthenticated).Inc()
		return nil
	}

	switch ev.Action {
	case domain.ActionEnter:
		b.enter(ev)
	case domain.ActionExit:
		b.exit(ev.Key(), ev.OccurredAt)
	}
	b.mu.Unlock()
	b.flush()
	return nil
}

func (b *Bridge) enter(ev domain.TriggerEvent) {
	inst, ok := b.triggers.Enter(ev, domain.CheckInTags(ev))
	if !ok {
		return
	}

	b.tags.CheckIn(inst)
	if !inst.WillCheckOut {
		key, id := inst.Key, inst.ID
		timer := b.clock.AfterFunc(b.tagExpiry, func() { b.expire(key, id) })
		b.triggers.ArmExpiry(key, id, timer)
	}

	b.logger.Info("checked in",
		"kind", inst.Key.Kind,
		"source_id", inst.Key.SourceID,
		"zone_id", inst.Zone.ID,
		"instance_id", inst.ID,
		"will_check_out", inst.WillCheckOut,
	)
	b.metrics.CheckIns.WithLabelValues(inst.Key.Kind.String()).Inc()
	b.enqueue(notifyCheckIn(domain.NewCheckIn(inst)))
}

func (b *Bridge) exit(key domain.TriggerKey, at time.Time) {
	out, ok := b.triggers.Exit(key, at)
	if !ok {
		return
	}

	b.tags.CheckOut(key, out.InstanceID, out.CustomData)

	b.logger.Info("checked out",
		"kind", key.Kind,
		"source_id", key.SourceID,
		"zone_id", out.Zone.ID,
		"instance_id", out.InstanceID,
		"dwell_minutes", out.Duration,
	)
	kind := key.Kind.String()
	b.metrics.CheckOuts.WithLabelValues(kind).Inc()
	b.metrics.DwellMinutes.WithLabelValues(kind).Observe(float64(out.Duration))
	b.enqueue(notifyCheckOut(out))
}

// expire removes the tags of an instance that expects no check-out.
func (b *Bridge) expire(key domain.TriggerKey, instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.triggers.Expire(key, instanceID)
	if !ok {
		return
	}
	b.tags.CheckOut(key, inst.ID, inst.CustomData)
	b.logger.Debug("tags expired",
		"kind", key.Kind,
		"source_id", key.SourceID,
		"instance_id", inst.ID,
		"tags", inst.Tags,
	)
}

// Session returns the current session.
func (b *Bridge) Session() session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.Current()
}

// OpenTriggers returns the open trigger instances ordered by check-in time.
func (b *Bridge) OpenTriggers() []domain.TriggerInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggers.Open()
}

// CheckReadiness returns nil while the session is authenticated.
func (b *Bridge) CheckReadiness(_ context.Context) error {
	if s := b.Session(); s.State != session.Authenticated {
		return fmt.Errorf("session is %s", s.State)
	}
	return nil
}

// enqueue must be called with b.mu held.
func (b *Bridge) enqueue(n func(*Delegate)) {
	b.outbox = append(b.outbox, n)
}

// flush delivers queued hooks outside the lock. Only one goroutine drains at
// a time; hooks queued meanwhile, including by re-entrant calls from a hook,
// are picked up by the active drainer.
func (b *Bridge) flush() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.outbox) > 0 {
		n := b.outbox[0]
		b.outbox[0] = nil
		b.outbox = b.outbox[1:]
		d := b.delegate
		b.mu.Unlock()
		if d != nil {
			b.deliver(n, d)
		}
		b.mu.Lock()
	}
	b.outbox = nil
	b.draining = false
	b.mu.Unlock()
}

func (b *Bridge) deliver(n func(*Delegate), d *Delegate) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("delegate hook panicked", "panic", r)
		}
	}()
	n(d)
}
