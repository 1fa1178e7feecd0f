// Package retry drives one unit of work through a bounded backoff loop.
//
// Each item moves through Attempting(n) -> Succeeded | Waiting(delay) ->
// Attempting(n+1) | Failed. Only errors the policy marks as retryable lead to
// Waiting; everything else fails the item on the spot.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrMaxRetries is the terminal reason once every attempt was rate limited.
var ErrMaxRetries = errors.New("max retries reached")

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second
	DefaultCooldown     = 500 * time.Millisecond
)

// State is a node of the per-item retry state machine.
type State int

const (
	StateAttempting State = iota
	StateWaiting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "Attempting"
	case StateWaiting:
		return "Waiting"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transition is emitted on every state change.
type Transition struct {
	Err     error
	ItemID  string
	Delay   time.Duration // set for StateWaiting
	Attempt int
	State   State
}

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper waits on a timer.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy configures the loop.
type Policy struct {
	// IsRetryable reports whether err should lead to a backoff and another
	// attempt. A nil func retries nothing.
	IsRetryable  func(error) bool
	MaxAttempts  int
	InitialDelay time.Duration
	Cooldown     time.Duration
}

// DefaultPolicy returns the stock limits with the given classifier.
func DefaultPolicy(isRetryable func(error) bool) Policy {
	return Policy{
		IsRetryable:  isRetryable,
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		Cooldown:     DefaultCooldown,
	}
}

// Result is the terminal state of one Run.
type Result struct {
	Err      error
	Delays   []time.Duration // backoff waits, in order
	Attempts int
}

// Succeeded reports whether the item ended in StateSucceeded.
func (r Result) Succeeded() bool { return r.Err == nil }

// Controller runs attempts under a Policy.
type Controller struct {
	sleeper      Sleeper
	OnTransition func(Transition)
	policy       Policy
}

// NewController creates a controller. A nil sleeper means RealSleeper.
func NewController(policy Policy, sleeper Sleeper) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if sleeper == nil {
		sleeper = RealSleeper{}
	}
	return &Controller{policy: policy, sleeper: sleeper}
}

// Policy returns the controller's effective policy.
func (c *Controller) Policy() Policy { return c.policy }

func (c *Controller) emit(t Transition) {
	if c.OnTransition != nil {
		c.OnTransition(t)
	}
}

// Run calls attempt until it succeeds, fails terminally, or the attempt
// ceiling is reached while still retryable. attempt receives the 1-based
// attempt number. A successful run ends with the policy's cooldown.
func (c *Controller) Run(ctx context.Context, itemID string, attempt func(ctx context.Context, n int) error) Result {
	logger := log.WithField("item", itemID)
	delay := c.policy.InitialDelay
	var res Result

	for n := 1; ; n++ {
		res.Attempts = n
		c.emit(Transition{ItemID: itemID, State: StateAttempting, Attempt: n})

		err := attempt(ctx, n)
		if err == nil {
			c.emit(Transition{ItemID: itemID, State: StateSucceeded, Attempt: n})
			if c.policy.Cooldown > 0 {
				// A cancelled cooldown does not undo the work already done.
				_ = c.sleeper.Sleep(ctx, c.policy.Cooldown)
			}
			return res
		}

		if c.policy.IsRetryable == nil || !c.policy.IsRetryable(err) {
			res.Err = err
			c.emit(Transition{ItemID: itemID, State: StateFailed, Attempt: n, Err: err})
			return res
		}

		if n >= c.policy.MaxAttempts {
			res.Err = fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, n, err)
			c.emit(Transition{ItemID: itemID, State: StateFailed, Attempt: n, Err: res.Err})
			return res
		}

		logger.Warnf("Rate limited. Waiting for %s before retry.", delay)
		c.emit(Transition{ItemID: itemID, State: StateWaiting, Attempt: n, Delay: delay, Err: err})
		res.Delays = append(res.Delays, delay)
		if sleepErr := c.sleeper.Sleep(ctx, delay); sleepErr != nil {
			res.Err = fmt.Errorf("backoff interrupted: %w", sleepErr)
			c.emit(Transition{ItemID: itemID, State: StateFailed, Attempt: n, Err: res.Err})
			return res
		}
		delay *= 2
	}
}
