// Package devicepool leases pooled devices to workers.
//
// Every device is in exactly one of three states. Free devices can be
// leased, Leased devices belong to one test until released, and Blocked
// devices are out for the rest of the run. All transitions happen under one
// mutex; Lease waits by polling and never holds the lock while sleeping.
package devicepool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
	"github.com/devicelab-dev/uirunner/pkg/metrics"
)

// State of a pooled device.
type State int

const (
	StateFree State = iota
	StateLeased
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateLeased:
		return "leased"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Options control how long Lease waits.
type Options struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

// Requirement narrows which devices a lease may return. The zero value matches any device.
type Requirement struct {
	Platform     string            `yaml:"platform"`
	Capabilities map[string]string `yaml:"capabilities"`
}

// Matches reports whether d satisfies the requirement.
func (r Requirement) Matches(d core.DeviceInfo) bool {
	if r.Platform != "" && r.Platform != d.Platform {
		return false
	}
	for k, v := range r.Capabilities {
		if d.Capabilities[k] != v {
			return false
		}
	}
	return true
}

// Stats is a consistent snapshot of the pool.
type Stats struct {
	Free    int
	Leased  int
	Blocked int
	Total   int
}

type entry struct {
	info  core.DeviceInfo
	state State
}

// Pool is safe for concurrent use by any number of workers.
type Pool struct {
	mu      sync.Mutex
	entries []*entry // configuration order, which is also lease preference
	byID    map[string]*entry
	opts    Options
}

// errBusy is the retryable outcome: matching devices exist but are all leased.
var errBusy = errors.New("all matching devices are leased")

// New builds a pool with every device Free.
func New(devices []core.DeviceInfo, opts Options) (*Pool, error) {
	if opts.PollInterval <= 0 {
		return nil, core.ErrInvalidConfig.WithMessage("device poll interval must be positive")
	}
	p := &Pool{
		byID: make(map[string]*entry, len(devices)),
		opts: opts,
	}
	for _, d := range devices {
		if d.ID == "" {
			return nil, core.ErrInvalidConfig.WithMessage("device without id")
		}
		if _, dup := p.byID[d.ID]; dup {
			return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("duplicate device id %q", d.ID))
		}
		e := &entry{info: d, state: StateFree}
		p.entries = append(p.entries, e)
		p.byID[d.ID] = e
	}
	p.publish()
	return p, nil
}

// Lease returns a Free device matching req and marks it Leased.
//
// When every matching device is Leased, Lease polls at the configured
// interval until one is released or MaxWait elapses, then fails with
// core.ErrNoDeviceAvailable. When no matching device is Free or Leased it
// fails immediately. Cancelling ctx stops the wait with ctx's error.
func (p *Pool) Lease(ctx context.Context, req Requirement) (core.DeviceInfo, error) {
	start := time.Now()
	defer func() { metrics.ObserveLeaseWait(time.Since(start)) }()

	waitCtx, cancel := context.WithTimeout(ctx, p.opts.MaxWait)
	defer cancel()

	attempt := func() (core.DeviceInfo, error) {
		d, err := p.tryLease(req)
		if err != nil && !errors.Is(err, errBusy) {
			return d, backoff.Permanent(err)
		}
		return d, err
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(p.opts.PollInterval), waitCtx)

	d, err := backoff.RetryWithData(attempt, b)
	switch {
	case err == nil:
		logger.Debug("leased device %s after %s", d.ID, time.Since(start).Round(time.Millisecond))
		return d, nil
	case ctx.Err() != nil:
		return core.DeviceInfo{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errBusy):
		return core.DeviceInfo{}, core.ErrNoDeviceAvailable.WithMessage(
			fmt.Sprintf("no device available after waiting %s", p.opts.MaxWait))
	default:
		return core.DeviceInfo{}, err
	}
}

// tryLease makes one attempt under the lock.
func (p *Pool) tryLease(req Requirement) (core.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := false
	for _, e := range p.entries {
		if !req.Matches(e.info) {
			continue
		}
		switch e.state {
		case StateFree:
			e.state = StateLeased
			p.publishLocked()
			return e.info, nil
		case StateLeased:
			busy = true
		}
	}
	if busy {
		return core.DeviceInfo{}, errBusy
	}
	return core.DeviceInfo{}, core.ErrNoDeviceAvailable.WithMessage("no device available: no matching device is free or leased")
}

// Release returns a leased device to the pool. Releasing a device that was
// blocklisted while leased is a no-op.
func (p *Pool) Release(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byID[id]
	if !ok {
		return core.ErrUnknownDevice.WithMessage(fmt.Sprintf("unknown device %q", id))
	}
	switch e.state {
	case StateLeased:
		e.state = StateFree
		p.publishLocked()
		return nil
	case StateBlocked:
		return nil
	default:
		return core.ErrDeviceNotLeased.WithMessage(fmt.Sprintf("device %q is not leased", id))
	}
}

// Blocklist removes a device from the pool for the rest of the run.
func (p *Pool) Blocklist(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byID[id]
	if !ok {
		return core.ErrUnknownDevice.WithMessage(fmt.Sprintf("unknown device %q", id))
	}
	if e.state != StateBlocked {
		logger.Warn("blocklisting device %s (was %s)", id, e.state)
		e.state = StateBlocked
		p.publishLocked()
	}
	return nil
}

// State returns the current state of one device.
func (p *Pool) State(id string) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byID[id]
	if !ok {
		return 0, core.ErrUnknownDevice.WithMessage(fmt.Sprintf("unknown device %q", id))
	}
	return e.state, nil
}

// Stats returns a consistent snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{Total: len(p.entries)}
	for _, e := range p.entries {
		switch e.state {
		case StateFree:
			s.Free++
		case StateLeased:
			s.Leased++
		case StateBlocked:
			s.Blocked++
		}
	}
	return s
}

func (p *Pool) publish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked()
}

func (p *Pool) publishLocked() {
	s := p.statsLocked()
	metrics.SetDevices(s.Free, s.Leased, s.Blocked)
}
