package assistant

import "testing"

func TestCallerIdentity(t *testing.T) {
	tests := []struct {
		name          string
		caller        Caller
		authenticated bool
		key           string
	}{
		{
			name:          "guest",
			caller:        Caller{GuestID: "g-42"},
			authenticated: false,
			key:           "guest:g-42",
		},
		{
			name:          "authenticated user",
			caller:        Caller{UserID: 7, AccessToken: "tok"},
			authenticated: true,
			key:           "user:7",
		},
		{
			name:          "user id without token is not authenticated",
			caller:        Caller{UserID: 7},
			authenticated: false,
			key:           "guest:",
		},
		{
			name:          "token without user id is not authenticated",
			caller:        Caller{AccessToken: "tok", GuestID: "g-1"},
			authenticated: false,
			key:           "guest:g-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caller.Authenticated(); got != tt.authenticated {
				t.Errorf("Authenticated() = %v, want %v", got, tt.authenticated)
			}
			if got := tt.caller.Key(); got != tt.key {
				t.Errorf("Key() = %q, want %q", got, tt.key)
			}
		})
	}
}

func TestCallerKeysNeverCollide(t *testing.T) {
	user := Caller{UserID: 42, AccessToken: "tok"}
	guest := Caller{GuestID: "42"}
	if user.Key() == guest.Key() {
		t.Fatalf("user and guest keys collide: %q", user.Key())
	}
}
