package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		input   string
		want    Period
		wantErr bool
	}{
		{input: "2025-11", want: Period{Year: 2025, Month: time.November}},
		{input: "2024-01", want: Period{Year: 2024, Month: time.January}},
		{input: "2025-13", wantErr: true},
		{input: "2025-00", wantErr: true},
		{input: "2025-1", wantErr: true},
		{input: "25-11", wantErr: true},
		{input: "2025-11-01", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePeriod(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
			if got.String() != tt.input {
				t.Fatalf("expected round trip to %q, got %q", tt.input, got.String())
			}
		})
	}
}

func TestPeriodBefore(t *testing.T) {
	nov := Period{Year: 2025, Month: time.November}
	dec := Period{Year: 2025, Month: time.December}
	jan := Period{Year: 2026, Month: time.January}

	if !nov.Before(dec) || !dec.Before(jan) || !nov.Before(jan) {
		t.Fatal("expected periods to be ordered by year then month")
	}
	if jan.Before(nov) || nov.Before(nov) {
		t.Fatal("expected Before to be a strict order")
	}
}

func TestPeriodWindow(t *testing.T) {
	start, end := Period{Year: 2024, Month: time.February}.Window()
	if start.String() != "2024-02-01" {
		t.Fatalf("expected window start 2024-02-01, got %s", start)
	}
	if end.String() != "2024-02-29" {
		t.Fatalf("expected leap-year window end 2024-02-29, got %s", end)
	}
}

func TestParseDateAcceptsTimestamps(t *testing.T) {
	d, err := ParseDate("2025-11-03T22:15:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2025-11-03" {
		t.Fatalf("expected timestamp truncated to 2025-11-03, got %s", d)
	}
	if d.Period().String() != "2025-11" {
		t.Fatalf("expected period 2025-11, got %s", d.Period())
	}
}

func TestDateJSON(t *testing.T) {
	var payload struct {
		D Date `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"d":"2025-11-10"}`), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != `{"d":"2025-11-10"}` {
		t.Fatalf("unexpected encoding %s", out)
	}

	zero, _ := json.Marshal(struct {
		D Date `json:"d"`
	}{})
	if string(zero) != `{"d":null}` {
		t.Fatalf("expected zero date to encode as null, got %s", zero)
	}
}

func TestTaxonomyErrorsUnwrap(t *testing.T) {
	if !errors.Is(ErrGoalNotFound, ErrNotFound) {
		t.Fatal("expected goal-not-found to be a not-found error")
	}
	if !errors.Is(ErrUsernameTaken, ErrConflict) {
		t.Fatal("expected username-taken to be a conflict error")
	}
	if errors.Is(ErrNoCredentials, ErrValidation) {
		t.Fatal("did not expect no-credentials to be a validation error")
	}
}
