package asyncdomain

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Activator is the backend hook invoked the first time a domain is
// created under a subscription that requested activation. It returns
// once the device will actually emit events for this domain (a hardware
// arming handshake for real backends; a no-op for dummies).
type Activator interface {
	ActivateSubscription(ctx context.Context, domainID string) error
	InitialVersion(ctx context.Context, domainID string) (uint64, error)
}

// exceptionMessage is the payload pushed onto the exception queue;
// sentinel is used to unblock and terminate the distribution goroutine
// during Close.
type exceptionMessage struct {
	text     string
	sentinel bool
}

// Container is DomainsContainer: the process-wide map of domainID →
// Domain plus the exception-broadcast goroutine. The broadcast goroutine
// exists because SendException on a domain takes that domain's lock;
// raising it directly from inside another domain's own distribute path
// (which already holds that domain's lock) risks a cross-domain
// lock-ordering deadlock. Deferring the fan-out to a dedicated goroutine
// reading an MPSC-style buffered channel breaks that cycle.
type Container struct {
	mu      sync.Mutex
	domains map[string]*Domain

	exceptions chan exceptionMessage
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
}

// exceptionQueueDepth bounds the backlog of pending exception broadcasts.
const exceptionQueueDepth = 64

// NewContainer returns an empty container. The exception-distribution
// goroutine is spawned lazily on the first Subscribe or SendExceptions
// call (or by Close, if neither came first).
func NewContainer() *Container {
	return &Container{
		domains:    make(map[string]*Domain),
		exceptions: make(chan exceptionMessage, exceptionQueueDepth),
		done:       make(chan struct{}),
	}
}

func (c *Container) ensureStarted() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.runExceptionLoop()
	})
}

func (c *Container) runExceptionLoop() {
	defer c.wg.Done()
	for msg := range c.exceptions {
		if msg.sentinel {
			return
		}
		c.ForEach(func(id string, d *Domain) {
			d.SendException(fmt.Errorf("asyncdomain: %s", msg.text))
		})
	}
}

// getOrCreate returns the domain for id, creating it if absent, and
// reports whether it was newly created.
func (c *Container) getOrCreate(id string) (*Domain, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.domains[id]
	if ok {
		return d, false
	}
	d = NewDomain(id)
	c.domains[id] = d
	return d, true
}

// Subscribe looks up or creates the domain named id, registers dist, and
// if this is a new domain and activate is true, drives the backend's
// arming handshake before returning. The cancel function unregisters
// dist; it does not remove the domain itself (a domain persists across
// subscriber churn, matching the source's don't-destroy-on-last-unsubscribe
// posture for a shared interrupt line).
func (c *Container) Subscribe(ctx context.Context, id string, activate bool, backend Activator, dist Distributor) (cancel func(), err error) {
	c.ensureStarted()
	domain, created := c.getOrCreate(id)
	cancelFn := domain.Subscribe(dist)

	if created && activate && backend != nil {
		g, gctx := errgroup.WithContext(ctx)
		var initial uint64
		g.Go(func() error {
			if err := backend.ActivateSubscription(gctx, id); err != nil {
				return fmt.Errorf("activateSubscription(%s): %w", id, err)
			}
			v, err := backend.InitialVersion(gctx, id)
			if err != nil {
				return fmt.Errorf("getAsyncDomainInitialValue(%s): %w", id, err)
			}
			initial = v
			return nil
		})
		if err := g.Wait(); err != nil {
			cancelFn()
			return nil, err
		}
		domain.Activate(initial)
	}

	return cancelFn, nil
}

// SendExceptions enqueues message for asynchronous broadcast to every
// live domain. It never blocks the caller on domain locks.
func (c *Container) SendExceptions(message string) {
	c.ensureStarted()
	select {
	case c.exceptions <- exceptionMessage{text: message}:
	default:
		// Queue saturated under a fault storm; drop rather than block
		// the backend's fault-reporting path.
	}
}

// ForEach calls fn for every currently registered domain.
func (c *Container) ForEach(fn func(id string, d *Domain)) {
	c.mu.Lock()
	domains := make([]*Domain, 0, len(c.domains))
	for _, d := range c.domains {
		domains = append(domains, d)
	}
	c.mu.Unlock()

	for _, d := range domains {
		fn(d.ID(), d)
	}
}

// Close pushes a sentinel into the exception queue and waits for the
// distribution goroutine to exit. Safe to call even if the goroutine was
// never started.
func (c *Container) Close() {
	c.ensureStarted()
	c.exceptions <- exceptionMessage{sentinel: true}
	close(c.exceptions)
	c.wg.Wait()
}
