package pacing

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestDisabledPacerNeverBlocks(t *testing.T) {
	p := NewPacer(0, 0)
	ctx := context.Background()

	start := time.Now()
	if err := p.WaitN(ctx, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected disabled pacer to return immediately, took %v", elapsed)
	}
}

func TestSendAllDeliversInOrder(t *testing.T) {
	p := NewPacer(1024*1024, 0)
	var got [][]byte

	datagrams := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	err := p.SendAll(context.Background(), datagrams, func(dg []byte) error {
		cp := append([]byte(nil), dg...)
		got = append(got, cp)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(got))
	}
	for i, want := range datagrams {
		if !bytes.Equal(got[i], want) {
			t.Errorf("send %d = %q, want %q", i, got[i], want)
		}
	}
}

func TestPacerThrottlesBurstTraffic(t *testing.T) {
	// 8KB/s with an 8KB burst: the first 8KB is free, the next 8KB must wait.
	p := NewPacer(8*1024, 8*1024)

	dg := make([]byte, 8*1024)
	start := time.Now()
	if err := p.WaitN(context.Background(), len(dg)); err != nil {
		t.Fatalf("unexpected error on first burst: %v", err)
	}
	if err := p.WaitN(context.Background(), len(dg)); err != nil {
		t.Fatalf("unexpected error on second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected throttling to take at least 500ms, took %v", elapsed)
	}
}

func TestSendAllStopsOnFirstError(t *testing.T) {
	p := NewPacer(0, 0)
	boom := context.DeadlineExceeded
	calls := 0

	err := p.SendAll(context.Background(), [][]byte{{1}, {2}, {3}}, func(dg []byte) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	if err != boom {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected SendAll to stop after 2 calls, got %d", calls)
	}
}
