package liveness

import (
	"net"
	"runtime"
	"testing"
	"time"
)

func TestIsStaleBelowThreshold(t *testing.T) {
	if IsStale(time.Now(), time.Minute) {
		t.Fatalf("expected fresh activity not to be stale")
	}
}

func TestIsStaleAboveThreshold(t *testing.T) {
	old := time.Now().Add(-2 * time.Minute)
	if !IsStale(old, time.Minute) {
		t.Fatalf("expected old activity to be stale")
	}
}

func TestNewProber(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping socket test on Windows")
	}

	destIP := net.ParseIP("127.0.0.1")
	p, err := NewProber(destIP, 1, 2*time.Second)
	if err != nil {
		t.Skipf("NewProber() failed (may need sysctl configuration): %v", err)
	}
	defer p.Close()

	if p.dest == nil {
		t.Fatalf("expected prober to retain destination IP")
	}
}
