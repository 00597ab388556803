package stream

import (
	"bytes"
	"testing"
)

func TestApplyDiffAndReadAvailable(t *testing.T) {
	c := NewChannel()
	if c.HasPendingRead() {
		t.Fatalf("expected no pending read on empty channel")
	}

	c.ApplyDiff([]byte("hello"))
	if !c.HasPendingRead() {
		t.Fatalf("expected pending read after ApplyDiff")
	}

	got := c.ReadAvailable()
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q want %q", got, "hello")
	}
	if c.HasPendingRead() {
		t.Fatalf("expected buffer drained after ReadAvailable")
	}
}

func TestWriteAndTakePendingDiff(t *testing.T) {
	c := NewChannel()
	if got := c.TakePendingDiff(); got != nil {
		t.Fatalf("expected nil on empty send buffer, got %v", got)
	}

	c.Write([]byte("abc"))
	c.Write([]byte("def"))

	got := c.TakePendingDiff()
	if !bytes.Equal(got, []byte("abcdef")) {
		t.Fatalf("got %q want %q", got, "abcdef")
	}
	if got := c.TakePendingDiff(); got != nil {
		t.Fatalf("expected nil after drain, got %v", got)
	}
}

func TestByteCounters(t *testing.T) {
	c := NewChannel()
	c.ApplyDiff([]byte("1234"))
	c.Write([]byte("12345"))

	if c.TotalRecvBytes() != 4 {
		t.Fatalf("expected TotalRecvBytes 4, got %d", c.TotalRecvBytes())
	}
	if c.TotalSentBytes() != 5 {
		t.Fatalf("expected TotalSentBytes 5, got %d", c.TotalSentBytes())
	}
}

func TestCadenceDecoupling(t *testing.T) {
	c := NewChannel()
	c.Write([]byte("a"))
	c.Write([]byte("b"))
	// Nothing drains send into recv automatically: the two buffers are
	// independent, so host writes accumulate until the transport drains
	// them regardless of how many times ReadAvailable is polled meanwhile.
	if c.HasPendingRead() {
		t.Fatalf("send-side writes must not appear on the recv side")
	}
}
