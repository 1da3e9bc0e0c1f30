package mrl

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"
)

// authState is the two-phase authentication state machine.
type authState int

const (
	authDisconnected authState = iota
	authConnecting
	authUnlocking
	authUnlocked
	authAwaitingSeed
	authAuthenticated
	authFailed
)

func (s authState) String() string {
	switch s {
	case authDisconnected:
		return "disconnected"
	case authConnecting:
		return "connecting"
	case authUnlocking:
		return "unlocking"
	case authUnlocked:
		return "unlocked"
	case authAwaitingSeed:
		return "awaiting_seed"
	case authAuthenticated:
		return "authenticated"
	case authFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// runAuthentication drives the session from Connecting through
// Authenticated. It is called with the transport already
// GATT-connected; it performs Step 1 (UNLOCK_STATUS challenge/response),
// enables notifications, and leaves the session in authUnlocked/
// authAwaitingSeed waiting for the SEED notification to complete Step 2.
func (s *Session) runAuthentication(ctx context.Context) error {
	s.setAuthState(authUnlocking)

	challenge, err := s.transport.ReadChar(ctx, UnlockStatusCharUUID)
	if err != nil {
		s.setAuthState(authFailed)
		return &TransportError{Op: "read UNLOCK_STATUS", Err: err}
	}

	if containsUnlocked(challenge) {
		slog.Debug("auth: gateway already unlocked")
		return s.enableNotificationsAndAwaitSeed(ctx)
	}

	if len(challenge) != 4 {
		s.setAuthState(authFailed)
		return &AuthError{Step: 1, Reason: "unexpected UNLOCK_STATUS size"}
	}
	if bytes.Equal(challenge, []byte{0, 0, 0, 0}) {
		s.setAuthState(authFailed)
		return &AuthError{Step: 1, Reason: "all-zeros challenge, gateway not ready"}
	}

	key, err := calculateStep1Key(challenge)
	if err != nil {
		s.setAuthState(authFailed)
		return &AuthError{Step: 1, Reason: err.Error()}
	}

	if err := s.transport.WriteChar(ctx, KeyCharUUID, key, false); err != nil {
		s.setAuthState(authFailed)
		return &TransportError{Op: "write KEY (step1)", Err: err}
	}

	select {
	case <-time.After(unlockVerifyDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	verify, err := s.transport.ReadChar(ctx, UnlockStatusCharUUID)
	if err != nil {
		s.setAuthState(authFailed)
		return &TransportError{Op: "verify-read UNLOCK_STATUS", Err: err}
	}
	if !containsUnlocked(verify) {
		s.setAuthState(authFailed)
		return &AuthError{Step: 1, Reason: "unlock verify failed"}
	}

	slog.Info("auth: step 1 unlocked")
	return s.enableNotificationsAndAwaitSeed(ctx)
}

func containsUnlocked(b []byte) bool {
	return strings.Contains(strings.ToLower(string(b)), "unlocked")
}

func (s *Session) enableNotificationsAndAwaitSeed(ctx context.Context) error {
	s.setAuthState(authUnlocked)

	if err := s.transport.StartNotify(ctx, DataReadCharUUID, s.onDataReadNotification); err != nil {
		s.setAuthState(authFailed)
		return &TransportError{Op: "start_notify DATA_READ", Err: err}
	}

	select {
	case <-time.After(notificationEnableDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.transport.StartNotify(ctx, SeedCharUUID, s.onSeedNotification); err != nil {
		s.setAuthState(authFailed)
		return &TransportError{Op: "start_notify SEED", Err: err}
	}

	s.setAuthState(authAwaitingSeed)
	return nil
}

// onSeedNotification completes Step 2: compute the 16-byte key from the
// SEED notification and the configured PIN, write it, and transition to
// Authenticated.
func (s *Session) onSeedNotification(seed []byte) {
	slog.Debug("auth: SEED notification", "seed", seed)

	key, err := calculateStep2Key(seed, s.config.GatewayPIN)
	if err != nil {
		slog.Warn("auth: step 2 key derivation failed", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	if err := s.transport.WriteChar(ctx, KeyCharUUID, key, false); err != nil {
		slog.Error("auth: step 2 write KEY failed", "err", err)
		return
	}

	s.setAuthState(authAuthenticated)
	slog.Info("auth: authenticated")
	s.onAuthenticated()
}

func (s *Session) setAuthState(state authState) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	s.authState = state
}

func (s *Session) getAuthState() authState {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	return s.authState
}
