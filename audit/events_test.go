package audit

import (
	"log/slog"
	"testing"
)

func TestAllEventTypes_Unique(t *testing.T) {
	types := AllEventTypes()
	if len(types) != 32 {
		t.Errorf("len(AllEventTypes()) = %d, want 32", len(types))
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if et == "" {
			t.Error("AllEventTypes() contains an empty event type")
		}
		if seen[et] {
			t.Errorf("AllEventTypes() contains duplicate %q", et)
		}
		seen[et] = true
	}
}

func TestSeverity_Rank(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%s.Rank() = %d, want greater than %s.Rank() = %d",
				ordered[i], ordered[i].Rank(), ordered[i-1], ordered[i-1].Rank())
		}
	}
	if got := Severity("bogus").Rank(); got != 0 {
		t.Errorf("unknown severity Rank() = %d, want 0", got)
	}
}

func TestSeverity_LogLevel(t *testing.T) {
	tests := []struct {
		severity Severity
		want     slog.Level
	}{
		{SeverityCritical, slog.LevelError},
		{SeverityHigh, slog.LevelError},
		{SeverityMedium, slog.LevelWarn},
		{SeverityLow, slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			if got := tt.severity.LogLevel(); got != tt.want {
				t.Errorf("LogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input  string
		want   Severity
		wantOK bool
	}{
		{"low", SeverityLow, true},
		{"medium", SeverityMedium, true},
		{"high", SeverityHigh, true},
		{"critical", SeverityCritical, true},
		{"CRITICAL", SeverityLow, false},
		{"", SeverityLow, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseSeverity(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseSeverity(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
