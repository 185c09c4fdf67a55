package rollout

import (
	"fmt"
	"testing"

	"github.com/goodtune/dtxcloud/internal/storage"
)

func TestHash(t *testing.T) {
	tests := []struct {
		input string
		want  int32
	}{
		{"", 0},
		{"u1f1", 3535847},
		{"user-123fw-9", -1990767763},
		{"polygenelubricants", -2147483648},
		{"ユーザーfw", 977026093},
		{"😀x", 54959989}, // surrogate pair hashes as two code units
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Hash(tt.input); got != tt.want {
				t.Errorf("Expected Hash(%q) = %d, got %d", tt.input, tt.want, got)
			}
		})
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		user, firmware string
		want           int
	}{
		{"u1", "f1", 47},
		{"", "", 0},
		{"user-123", "fw-9", 63},
		{"550e8400-e29b-41d4-a716-446655440000", "7c9e6679-7425-40de-944b-e07fc1f90ae7", 45},
		{"polygene", "lubricants", 48}, // |MinInt32| does not overflow
		{"u1", "fw-15", 36},
		{"u2", "fw-15", 85},
	}

	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.firmware, func(t *testing.T) {
			if got := Bucket(tt.user, tt.firmware); got != tt.want {
				t.Errorf("Expected bucket %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAdmitted_Deterministic(t *testing.T) {
	first := Admitted("u1", "f1", 50)
	for i := 0; i < 100; i++ {
		if Admitted("u1", "f1", 50) != first {
			t.Fatal("Expected the same decision on every call")
		}
	}
}

func TestAdmitted_Monotonic(t *testing.T) {
	for i := 0; i < 500; i++ {
		user := fmt.Sprintf("user-%d", i)
		admitted := false
		for p := 1; p <= 100; p++ {
			now := Admitted(user, "fw-15", p)
			if admitted && !now {
				t.Fatalf("User %s admitted at %d%% but not at %d%%", user, p-1, p)
			}
			admitted = now
		}
		if !admitted {
			t.Errorf("Expected %s to be admitted at 100%%", user)
		}
	}
}

func TestAdmitted_Distribution(t *testing.T) {
	const users = 10000

	for _, pct := range []int{10, 30, 50, 90} {
		admitted := 0
		for i := 0; i < users; i++ {
			if Admitted(fmt.Sprintf("user-%d", i), "fw-15", pct) {
				admitted++
			}
		}
		want := users * pct / 100
		if admitted < want-200 || admitted > want+200 {
			t.Errorf("Expected about %d users admitted at %d%%, got %d", want, pct, admitted)
		}
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to storage.RolloutStatus
		ok       bool
	}{
		{storage.RolloutDraft, storage.RolloutActive, true},
		{storage.RolloutDraft, storage.RolloutPaused, false},
		{storage.RolloutDraft, storage.RolloutCompleted, false},
		{storage.RolloutActive, storage.RolloutPaused, true},
		{storage.RolloutActive, storage.RolloutCompleted, true},
		{storage.RolloutActive, storage.RolloutDraft, false},
		{storage.RolloutPaused, storage.RolloutActive, true},
		{storage.RolloutPaused, storage.RolloutCompleted, true},
		{storage.RolloutCompleted, storage.RolloutActive, false},
		{storage.RolloutCompleted, storage.RolloutCompleted, true},
		{storage.RolloutActive, storage.RolloutActive, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.ok && err != nil {
				t.Errorf("Expected transition to be allowed, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Expected transition to be rejected")
			}
		})
	}
}
