package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/config"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/admin/users", BucketAdmin},
		{"/api/admin/analytics/overview", BucketAdmin},
		{"/api/sessions/upload", BucketUpload},
		{"/api/sessions", BucketGeneral},
		{"/api/devices/abc", BucketGeneral},
		{"/api/administrator", BucketGeneral},
	}
	for _, tt := range tests {
		if got := BucketFor(tt.path); got != tt.want {
			t.Errorf("BucketFor(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(config.RateLimitConfig{Window: "1m", General: 60, Upload: 10, Admin: 30})
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	if p.Window != time.Minute || p.Limits[BucketUpload] != 10 || p.Limits[BucketAdmin] != 30 {
		t.Errorf("Unexpected policy: %+v", p)
	}

	if _, err := NewPolicy(config.RateLimitConfig{Window: "soon"}); err == nil {
		t.Error("Expected error for invalid window")
	}
}

func TestLocal_Allow(t *testing.T) {
	clk := &clock.TestClock{CurrentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLocal(100, time.Minute, clk)
	ctx := context.Background()
	key := Key(BucketUpload, "u1")

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, key, 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("Expected request %d allowed", i+1)
		}
		if d.Remaining != 2-i {
			t.Errorf("Request %d: expected remaining %d, got %d", i+1, 2-i, d.Remaining)
		}
	}

	d, _ := l.Allow(ctx, key, 3, time.Minute)
	if d.Allowed {
		t.Error("Expected fourth request to be rejected")
	}
	if !d.ResetAt.After(clk.CurrentTime) {
		t.Errorf("Expected reset in the future, got %v", d.ResetAt)
	}

	other, _ := l.Allow(ctx, Key(BucketUpload, "u2"), 3, time.Minute)
	if !other.Allowed {
		t.Error("Expected another user to have a separate budget")
	}

	clk.Advance(21 * time.Second)
	d, _ = l.Allow(ctx, key, 3, time.Minute)
	if !d.Allowed {
		t.Error("Expected a token to refill after window/limit")
	}
}

func TestLocal_NonPositiveLimitAllows(t *testing.T) {
	l := NewLocal(10, time.Minute, &clock.TestClock{})
	d, err := l.Allow(context.Background(), "k", 0, time.Minute)
	if err != nil || !d.Allowed {
		t.Errorf("Expected unlimited budget to allow, got %+v %v", d, err)
	}
}
