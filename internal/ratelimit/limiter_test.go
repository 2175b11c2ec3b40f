package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestDomainLimiter_PerHost(t *testing.T) {
	dl := NewDomainLimiter(1, 1)
	ctx := context.Background()

	if err := dl.Wait(ctx, "http://a.example.com/x"); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	// a different host has its own bucket and must not wait
	start := time.Now()
	if err := dl.Wait(ctx, "http://b.example.com/y"); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Error("Expected independent bucket per host")
	}
	if dl.Hosts() != 2 {
		t.Errorf("Expected 2 hosts, got %d", dl.Hosts())
	}
}

func TestDomainLimiter_CancelledWait(t *testing.T) {
	dl := NewDomainLimiter(0.001, 1)
	_ = dl.Wait(context.Background(), "http://slow.example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := dl.Wait(ctx, "http://slow.example.com"); err == nil {
		t.Error("Expected error when the bucket is empty and ctx expires")
	}
}

func TestHostKey(t *testing.T) {
	tests := map[string]string{
		"https://Shop.Test:443/a": "shop.test",
		"http://shop.test/b":      "shop.test",
		"not a url\x7f":           "",
		"/relative":               "",
	}
	for in, want := range tests {
		if got := hostKey(in); got != want {
			t.Errorf("hostKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnlimited_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Unlimited{}).Wait(ctx, "https://x.test"); err == nil {
		t.Error("expected context error")
	}
}
