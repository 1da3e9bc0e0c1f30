package mrl

import "testing"

func TestAuthState_String(t *testing.T) {
	cases := map[authState]string{
		authDisconnected:  "disconnected",
		authConnecting:    "connecting",
		authUnlocking:     "unlocking",
		authUnlocked:      "unlocked",
		authAwaitingSeed:  "awaiting_seed",
		authAuthenticated: "authenticated",
		authFailed:        "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("authState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestContainsUnlocked_CaseInsensitive(t *testing.T) {
	if !containsUnlocked([]byte("UNLOCKED")) {
		t.Error("expected case-insensitive match for UNLOCKED")
	}
	if !containsUnlocked([]byte("status=unlocked;")) {
		t.Error("expected substring match within a larger payload")
	}
	if containsUnlocked([]byte("locked")) {
		t.Error("expected no match for unrelated text")
	}
}

func TestSession_SetAuthState_GetAuthState(t *testing.T) {
	s := newTestSession()
	s.setAuthState(authUnlocked)
	if got := s.getAuthState(); got != authUnlocked {
		t.Errorf("getAuthState() = %v, want %v", got, authUnlocked)
	}
}
