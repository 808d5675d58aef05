package util

import "testing"

func TestIsValidWebFingerUsername(t *testing.T) {
	tests := []struct {
		name    string
		valid   bool
	}{
		{"alice", true},
		{"alice.bob-dev_99~", true},
		{"", false},
		{"has space", false},
		{"emo🔥ji", false},
		{"café", false},
		{"a\tb", false},
	}
	for _, tt := range tests {
		ok, msg := IsValidWebFingerUsername(tt.name)
		if ok != tt.valid {
			t.Errorf("IsValidWebFingerUsername(%q) = %v (%q), want %v", tt.name, ok, msg, tt.valid)
		}
		if !ok && msg == "" {
			t.Errorf("IsValidWebFingerUsername(%q): expected a non-empty error message", tt.name)
		}
	}
}
