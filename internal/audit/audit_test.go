package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/goodtune/dtxcloud/internal/storage/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newRecorder(store *memory.Store) *Recorder {
	clk := &clock.TestClock{CurrentTime: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	return NewRecorder(store.AdminLogs(), besteffort.New(zerolog.Nop()), clk, zerolog.Nop())
}

func TestRecord(t *testing.T) {
	store := memory.New()
	r := newRecorder(store)

	ok := r.Record(context.Background(), Entry{
		AdminID:    "admin-1",
		Action:     "firmware.create",
		TargetType: TargetFirmware,
		TargetID:   "fw-1",
		Details:    map[string]any{"version": "1.2.0"},
		IPAddress:  "203.0.113.7",
	})
	if !ok {
		t.Fatal("Expected record to be stored")
	}

	logs, total, err := store.AdminLogs().List(context.Background(), storage.AdminLogFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("Expected 1 log, got %d", total)
	}
	entry := logs[0]
	if entry.ID == "" || entry.TargetID == nil || *entry.TargetID != "fw-1" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.IPAddress == nil || *entry.IPAddress != "203.0.113.7" {
		t.Errorf("Expected ip address recorded, got %v", entry.IPAddress)
	}
	if entry.Details["version"] != "1.2.0" {
		t.Errorf("Expected details preserved, got %v", entry.Details)
	}
}

func TestRecord_OptionalFieldsNil(t *testing.T) {
	store := memory.New()
	r := newRecorder(store)

	r.Record(context.Background(), Entry{AdminID: "admin-1", Action: "firmware.upload_url", TargetType: TargetFirmware})

	logs, _, _ := store.AdminLogs().List(context.Background(), storage.AdminLogFilter{})
	if len(logs) != 1 || logs[0].TargetID != nil || logs[0].IPAddress != nil {
		t.Errorf("Expected nil target and ip, got %+v", logs)
	}
}

func TestRecord_FailureIsSwallowed(t *testing.T) {
	store := memory.New()
	store.AdminLogHook = func(storage.AdminLog) error { return errors.New("audit table offline") }
	r := newRecorder(store)

	before := testutil.ToFloat64(metrics.AuditRecordsTotal.WithLabelValues("error"))
	failuresBefore := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues(besteffort.OpAuditWrite))

	if r.Record(context.Background(), Entry{AdminID: "admin-1", Action: "user.update", TargetType: TargetUser}) {
		t.Error("Expected record to report failure")
	}
	if got := testutil.ToFloat64(metrics.AuditRecordsTotal.WithLabelValues("error")) - before; got != 1 {
		t.Errorf("Expected audit error counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues(besteffort.OpAuditWrite)) - failuresBefore; got != 1 {
		t.Errorf("Expected best-effort failure counted, got %v", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded first hop", "198.51.100.1, 10.0.0.1", "", "10.0.0.2:5000", "198.51.100.1"},
		{"invalid forwarded falls back", "garbage", "198.51.100.9", "10.0.0.2:5000", "198.51.100.9"},
		{"real ip", "", "2001:db8::1", "10.0.0.2:5000", "2001:db8::1"},
		{"remote addr", "", "", "192.0.2.4:40000", "192.0.2.4"},
		{"remote addr without port", "", "", "192.0.2.5", "192.0.2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
