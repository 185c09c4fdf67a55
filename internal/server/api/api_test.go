package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseVersionCode(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"120", 120},
		{"-3", -3},
		{"1.9", 1},
		{"-1.5", -2},
		{"1e2", 100},
		{"abc", 0},
		{"NaN", 0},
		{"1e-400", 0},
		{"Infinity", math.MaxInt},
		{"-Infinity", math.MinInt},
		{"1e30", math.MaxInt},
		{"-1e30", math.MinInt},
		{"1e400", math.MaxInt},
		{"99999999999999999999", math.MaxInt},
		{"-99999999999999999999", math.MinInt},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseVersionCode(tt.raw); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		ok      bool
		message string
		field   string
	}{
		{"empty body", "", false, "Request body is required", ""},
		{"malformed", "{", false, "Invalid request body", ""},
		{"wrong type", `{"serial_number": 12}`, false, "Validation failed", "serial_number"},
		{"missing field", `{}`, false, "Validation failed", "serial_number"},
		{"too long", `{"serial_number": "DTX", "ble_mac_address": "` + strings.Repeat("a", 21) + `"}`, false, "Validation failed", "ble_mac_address"},
		{"valid", `{"serial_number": "DTX-1"}`, true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			var dst registerDeviceRequest
			if got := decode(rec, req, &dst); got != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, got)
			}
			if tt.ok {
				return
			}

			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rec.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if resp.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, resp.Message)
			}
			if tt.field != "" && len(resp.Details[tt.field]) == 0 {
				t.Errorf("Expected details for %s, got %v", tt.field, resp.Details)
			}
		})
	}
}

func TestProblemMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	req := createGoalRequest{GoalType: "daily", StartDate: "2026-13-01", EndDate: "2026-04-30"}
	if check(rec, req) {
		t.Fatal("Expected validation failure")
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}

	want := map[string]string{
		"goal_type":      "must be one of: weekly monthly",
		"target_minutes": "is required",
		"start_date":     "must be a 2006-01-02 date",
	}
	for field, msg := range want {
		if got := resp.Details[field]; len(got) != 1 || got[0] != msg {
			t.Errorf("%s: expected %q, got %v", field, msg, got)
		}
	}
	if _, ok := resp.Details["end_date"]; ok {
		t.Error("Expected end_date to pass")
	}
}

func TestSessionQueryFilter(t *testing.T) {
	q := sessionQuery{StartDate: "2026-04-01", EndDate: "2026-04-03", Limit: 50}
	f := q.filter("u1")

	if f.UserID != "u1" || f.Limit != 50 {
		t.Errorf("Unexpected filter %+v", f)
	}
	if f.Since == nil || !f.Since.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected since at start of 2026-04-01, got %v", f.Since)
	}
	if f.Before == nil || !f.Before.Equal(time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected before at start of 2026-04-04, got %v", f.Before)
	}

	empty := sessionQuery{Limit: 50}.filter("u1")
	if empty.Since != nil || empty.Before != nil {
		t.Error("Expected open range without dates")
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query  string
		ok     bool
		page   int
		limit  int
		offset int
	}{
		{"", true, 1, 20, 0},
		{"page=3&limit=10", true, 3, 10, 20},
		{"page=0", false, 0, 0, 0},
		{"limit=101", false, 0, 0, 0},
		{"page=x", false, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			rec := httptest.NewRecorder()

			p, ok := parsePagination(rec, req)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				if rec.Code != http.StatusBadRequest {
					t.Errorf("Expected status 400, got %d", rec.Code)
				}
				return
			}
			if p.Page != tt.page || p.Limit != tt.limit || p.offset() != tt.offset {
				t.Errorf("Expected page %d limit %d offset %d, got %d %d %d", tt.page, tt.limit, tt.offset, p.Page, p.Limit, p.offset())
			}
		})
	}
}
