package mrl

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// reconnectSupervisor drives repeated Session.Connect attempts with
// exponential backoff, stale-bond recovery, and connect-level retries.
type reconnectSupervisor struct {
	session *Session

	mu                  sync.Mutex
	consecutiveFailures int
	connected           bool

	// disconnectCh wakes the run loop after a transport-level disconnect.
	// Buffered so notifyDisconnected never blocks the notification
	// goroutine; a second disconnect while one is already queued collapses
	// into it, which also debounces disconnect storms.
	disconnectCh chan struct{}
}

func newReconnectSupervisor(s *Session) *reconnectSupervisor {
	return &reconnectSupervisor{
		session:      s,
		disconnectCh: make(chan struct{}, 1),
	}
}

// run blocks until ctx is cancelled, maintaining the connection with
// backoff between attempts.
func (r *reconnectSupervisor) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := r.attemptConnect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !r.waitBackoff(ctx, err) {
				return ctx.Err()
			}
			continue
		}

		// Connected: block until the transport drops or ctx is cancelled.
		select {
		case <-ctx.Done():
			_ = r.session.Disconnect()
			return ctx.Err()
		case <-r.disconnectCh:
			if !r.waitBackoff(ctx, nil) {
				return ctx.Err()
			}
		}
	}
}

// waitBackoff computes the next reconnect delay from the running failure
// count, increments it, and sleeps. Returns false when ctx was cancelled
// during the wait.
func (r *reconnectSupervisor) waitBackoff(ctx context.Context, cause error) bool {
	r.mu.Lock()
	delay := backoffDelay(r.consecutiveFailures)
	r.consecutiveFailures++
	n := r.consecutiveFailures
	r.mu.Unlock()

	if cause != nil {
		slog.Warn("reconnect: connect failed", "err", cause, "consecutive_failures", n, "delay", delay)
	} else {
		slog.Info("reconnect: link dropped, scheduling reconnect", "consecutive_failures", n, "delay", delay)
	}

	if r.shouldRecoverStaleBond(n) {
		r.recoverStaleBond(ctx)
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// attemptConnect runs up to connectRetryLimit GATT-connect attempts with
// linear backoff. If every attempt fails on a PIN-paired gateway, the
// OS bond is removed and one more attempt made; transports that can
// cycle between local adapters get a final shot on the next one.
func (r *reconnectSupervisor) attemptConnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= connectRetryLimit; attempt++ {
		err := r.session.Connect(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < connectRetryLimit {
			select {
			case <-time.After(time.Duration(attempt) * connectRetryBackoffUnit):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if r.session.agent != nil && r.session.config.PairingMethod == PairingPIN {
		slog.Info("reconnect: all attempts failed on PIN gateway, removing bond for one more try")
		if _, err := r.session.agent.RemoveBond(ctx, r.session.config.Address); err != nil {
			slog.Warn("reconnect: bond removal failed", "err", err)
		}
		if err := r.session.Connect(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if cycler, ok := r.session.transport.(AdapterCycler); ok {
		for cycler.CycleAdapter() {
			slog.Info("reconnect: trying next local adapter")
			if err := r.session.Connect(ctx); err == nil {
				return nil
			} else {
				lastErr = err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// shouldRecoverStaleBond reports whether this failure count warrants
// removing the OS-level bond before retrying: every 3rd consecutive
// failure, and only for gateways that pair with a PIN (push-button
// gateways don't accumulate stale bonds the same way).
func (r *reconnectSupervisor) shouldRecoverStaleBond(consecutiveFailures int) bool {
	if r.session.agent == nil {
		return false
	}
	if r.session.config.PairingMethod != PairingPIN {
		return false
	}
	return consecutiveFailures > 0 && consecutiveFailures%3 == 0
}

func (r *reconnectSupervisor) recoverStaleBond(ctx context.Context) {
	slog.Info("reconnect: removing stale bond", "address", r.session.config.Address)
	if _, err := r.session.agent.RemoveBond(ctx, r.session.config.Address); err != nil {
		slog.Warn("reconnect: stale bond removal failed", "err", err)
	}
}

func (r *reconnectSupervisor) notifyConnected() {
	r.mu.Lock()
	r.connected = true
	r.consecutiveFailures = 0
	r.mu.Unlock()
}

func (r *reconnectSupervisor) notifyDisconnected() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	select {
	case r.disconnectCh <- struct{}{}:
	default:
	}
}

// backoffDelay implements the 5s * 2^n backoff capped at 120s:
// 5, 10, 20, 40, 80, 120, 120, ...
func backoffDelay(consecutiveFailures int) time.Duration {
	d := reconnectBackoffBase
	for i := 0; i < consecutiveFailures && d < reconnectBackoffCap; i++ {
		d *= 2
	}
	if d > reconnectBackoffCap {
		d = reconnectBackoffCap
	}
	return d
}
