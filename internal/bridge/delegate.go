package bridge

import (
	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/session"
)

// Delegate receives application callbacks. Every hook is optional; a nil hook
// is skipped while the bridge still does its bookkeeping.
type Delegate struct {
	CheckedIntoFence     func(domain.CheckIn)
	CheckedOutFromFence  func(domain.CheckOut)
	CheckedIntoBeacon    func(domain.CheckIn)
	CheckedOutFromBeacon func(domain.CheckOut)
	Authenticated        func(session.Session)
	LoggedOut            func()
}

// Compose fans every hook out to each non-nil delegate in order.
func Compose(delegates ...*Delegate) *Delegate {
	var ds []*Delegate
	for _, d := range delegates {
		if d != nil {
			ds = append(ds, d)
		}
	}

	return &Delegate{
		CheckedIntoFence: func(c domain.CheckIn) {
			for _, d := range ds {
				if d.CheckedIntoFence != nil {
					d.CheckedIntoFence(c)
				}
			}
		},
		CheckedOutFromFence: func(c domain.CheckOut) {
			for _, d := range ds {
				if d.CheckedOutFromFence != nil {
					d.CheckedOutFromFence(c)
				}
			}
		},
		CheckedIntoBeacon: func(c domain.CheckIn) {
			for _, d := range ds {
				if d.CheckedIntoBeacon != nil {
					d.CheckedIntoBeacon(c)
				}
			}
		},
		CheckedOutFromBeacon: func(c domain.CheckOut) {
			for _, d := range ds {
				if d.CheckedOutFromBeacon != nil {
					d.CheckedOutFromBeacon(c)
				}
			}
		},
		Authenticated: func(s session.Session) {
			for _, d := range ds {
				if d.Authenticated != nil {
					d.Authenticated(s)
				}
			}
		},
		LoggedOut: func() {
			for _, d := range ds {
				if d.LoggedOut != nil {
					d.LoggedOut()
				}
			}
		},
	}
}

func notifyCheckIn(c domain.CheckIn) func(*Delegate) {
	return func(d *Delegate) {
		switch c.Kind {
		case domain.KindFence:
			if d.CheckedIntoFence != nil {
				d.CheckedIntoFence(c)
			}
		case domain.KindBeacon:
			if d.CheckedIntoBeacon != nil {
				d.CheckedIntoBeacon(c)
			}
		}
	}
}

func notifyCheckOut(c domain.CheckOut) func(*Delegate) {
	return func(d *Delegate) {
		switch c.Kind {
		case domain.KindFence:
			if d.CheckedOutFromFence != nil {
				d.CheckedOutFromFence(c)
			}
		case domain.KindBeacon:
			if d.CheckedOutFromBeacon != nil {
				d.CheckedOutFromBeacon(c)
			}
		}
	}
}

func notifyAuthenticated(s session.Session) func(*Delegate) {
	return func(d *Delegate) {
		if d.Authenticated != nil {
			d.Authenticated(s)
		}
	}
}

func notifyLoggedOut(d *Delegate) {
	if d.LoggedOut != nil {
		d.LoggedOut()
	}
}
