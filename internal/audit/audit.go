// Package audit records administrative mutations.
package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Target types.
const (
	TargetUser         = "user"
	TargetDevice       = "device"
	TargetFirmware     = "firmware"
	TargetRollout      = "rollout"
	TargetAnnouncement = "announcement"
	TargetSystem       = "system"
)

// Entry describes one administrative action.
type Entry struct {
	AdminID    string
	Action     string
	TargetType string
	TargetID   string // empty when the action has no single target
	Details    map[string]any
	IPAddress  string
}

// Recorder appends audit entries. A failed write is logged and counted but
// never returned, so the mutation it describes still succeeds.
type Recorder struct {
	logs   storage.AdminLogStore
	runner *besteffort.Runner
	clock  clock.Clock
	logger zerolog.Logger
}

// NewRecorder creates a recorder over the admin log store.
func NewRecorder(logs storage.AdminLogStore, runner *besteffort.Runner, clk clock.Clock, logger zerolog.Logger) *Recorder {
	return &Recorder{
		logs:   logs,
		runner: runner,
		clock:  clk,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record writes entry synchronously and reports whether it was stored.
func (r *Recorder) Record(ctx context.Context, entry Entry) bool {
	log := storage.AdminLog{
		ID:         uuid.NewString(),
		AdminID:    entry.AdminID,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		Details:    entry.Details,
		CreatedAt:  r.clock.Now(),
	}
	if entry.TargetID != "" {
		id := entry.TargetID
		log.TargetID = &id
	}
	if entry.IPAddress != "" {
		ip := entry.IPAddress
		log.IPAddress = &ip
	}

	ok := r.runner.Do(ctx, besteffort.OpAuditWrite, map[string]any{
		"admin_id": entry.AdminID,
		"action":   entry.Action,
	}, func(ctx context.Context) error {
		return r.logs.Append(ctx, log)
	})

	if !ok {
		metrics.AuditRecordsTotal.WithLabelValues("error").Inc()
		return false
	}
	metrics.AuditRecordsTotal.WithLabelValues("ok").Inc()

	r.logger.Info().
		Str("admin_id", entry.AdminID).
		Str("action", entry.Action).
		Str("target_type", entry.TargetType).
		Str("target_id", entry.TargetID).
		Msg("Admin action recorded")
	return true
}

// ClientIP returns the originating client address of r, preferring the
// first X-Forwarded-For hop, then X-Real-IP, then the connection peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
