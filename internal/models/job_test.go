package models

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusFailed, true},
		{StatusQueued, StatusSuccess, false},
		{StatusQueued, StatusFailed, false},
		{StatusSuccess, StatusRunning, false},
		{StatusSuccess, StatusQueued, false},
		{StatusFailed, StatusRunning, false},
		{StatusRunning, StatusQueued, false},
		{StatusRunning, StatusRunning, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(StatusQueued) || IsTerminal(StatusRunning) {
		t.Fatalf("queued/running must not be terminal")
	}
	if !IsTerminal(StatusSuccess) || !IsTerminal(StatusFailed) {
		t.Fatalf("success/failed must be terminal")
	}
}

func TestDeriveJobID(t *testing.T) {
	if got := DeriveJobID("abc1234def5678"); got != "abc1234" {
		t.Fatalf("expected abc1234, got %s", got)
	}
	if got := DeriveJobID("abc"); got != "abc" {
		t.Fatalf("short sha should pass through, got %s", got)
	}
}
