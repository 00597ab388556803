package sysinfo

import "testing"

func TestStartTimeIsSetAtInit(t *testing.T) {
	if StartTime().IsZero() {
		t.Fatalf("expected StartTime to be set at package init")
	}
}

func TestUptimeIsNonNegative(t *testing.T) {
	if Uptime() < 0 {
		t.Fatalf("expected non-negative uptime, got %v", Uptime())
	}
	if UptimeSeconds() < 0 {
		t.Fatalf("expected non-negative uptime seconds, got %d", UptimeSeconds())
	}
}

func TestVersionDefaultsToDevVariant(t *testing.T) {
	if Version == "" {
		t.Fatalf("expected a non-empty Version")
	}
}
