// Package allocator hands out hub-side listen ports for tunnels. Each
// tunnel class draws from a configured range; released ports sit in
// quarantine for a grace period so a late client reconnect cannot land on
// a port that was just handed to someone else.
package allocator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
)

// Range is an inclusive port interval.
type Range struct {
	Min int
	Max int
}

func (r Range) contains(port int) bool {
	return port >= r.Min && port <= r.Max
}

// Config carries the per-class ranges and the quarantine period.
// System tunnels share the terminal range.
type Config struct {
	TerminalRange Range
	HTTPSRange    Range
	Quarantine    time.Duration
}

// Allocator assigns the lowest free port in a class's range.
type Allocator struct {
	quarantine time.Duration
	now        func() time.Time

	mu     sync.Mutex
	ranges map[domain.TunnelClass]*portRange
}

// portRange tracks one contiguous range. used holds live allocations;
// quarantined maps a port to the instant it becomes reusable.
type portRange struct {
	bounds      Range
	used        map[int]bool
	quarantined map[int]time.Time
}

func New(cfg Config) *Allocator {
	terminal := &portRange{
		bounds:      cfg.TerminalRange,
		used:        make(map[int]bool),
		quarantined: make(map[int]time.Time),
	}
	https := &portRange{
		bounds:      cfg.HTTPSRange,
		used:        make(map[int]bool),
		quarantined: make(map[int]time.Time),
	}
	return &Allocator{
		quarantine: cfg.Quarantine,
		now:        time.Now,
		ranges: map[domain.TunnelClass]*portRange{
			domain.ClassSystem:   terminal,
			domain.ClassTerminal: terminal,
			domain.ClassHTTPS:    https,
		},
	}
}

func (a *Allocator) rangeFor(class domain.TunnelClass) (*portRange, error) {
	pr, ok := a.ranges[class]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tunnel class %q", domain.ErrInvalidInput, class)
	}
	return pr, nil
}

// Allocate returns the lowest port in the class's range that is neither in
// use nor quarantined. Returns ErrRangeExhausted when none remains.
func (a *Allocator) Allocate(class domain.TunnelClass) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pr, err := a.rangeFor(class)
	if err != nil {
		return 0, err
	}

	now := a.now()
	for port := pr.bounds.Min; port <= pr.bounds.Max; port++ {
		if pr.used[port] {
			continue
		}
		if until, held := pr.quarantined[port]; held {
			if now.Before(until) {
				continue
			}
			delete(pr.quarantined, port)
		}
		pr.used[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("%w: class %s (%d-%d)", domain.ErrRangeExhausted, class, pr.bounds.Min, pr.bounds.Max)
}

// Release returns a port to the pool via quarantine. Releasing a port that
// is not allocated is a no-op with a logged warning.
func (a *Allocator) Release(class domain.TunnelClass, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pr, err := a.rangeFor(class)
	if err != nil || !pr.used[port] {
		log.Printf("Ignoring release of unallocated port %d (class %s)", port, class)
		return
	}
	delete(pr.used, port)
	pr.quarantined[port] = a.now().Add(a.quarantine)
}

// Reserve marks a specific port as in use. Called during startup restore to
// re-derive allocator state from persisted tunnels.
func (a *Allocator) Reserve(class domain.TunnelClass, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pr, err := a.rangeFor(class)
	if err != nil {
		return err
	}
	if !pr.bounds.contains(port) {
		return fmt.Errorf("%w: port %d outside class %s range %d-%d",
			domain.ErrInvalidInput, port, class, pr.bounds.Min, pr.bounds.Max)
	}
	if pr.used[port] {
		return fmt.Errorf("%w: port %d", domain.ErrAlreadyExists, port)
	}
	delete(pr.quarantined, port)
	pr.used[port] = true
	return nil
}

// Sweep evicts quarantine entries whose hold has expired. Allocate also
// expires entries lazily when it scans past them; the sweep clears the
// ones no scan reaches, so the maps cannot grow without bound.
func (a *Allocator) Sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for _, pr := range a.ranges {
		for port, until := range pr.quarantined {
			if !now.Before(until) {
				delete(pr.quarantined, port)
			}
		}
	}
}

// Run sweeps expired quarantine entries on a fixed cadence until the
// context is cancelled.
func (a *Allocator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// Quarantined reports how many ports of the class are waiting out their
// quarantine.
func (a *Allocator) Quarantined(class domain.TunnelClass) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	pr, err := a.rangeFor(class)
	if err != nil {
		return 0
	}
	return len(pr.quarantined)
}

// InUse reports how many ports the class currently holds.
func (a *Allocator) InUse(class domain.TunnelClass) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	pr, err := a.rangeFor(class)
	if err != nil {
		return 0
	}
	return len(pr.used)
}
