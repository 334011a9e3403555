// internal/inference/pool_test.go
package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestPoolAcquireRelease verifies the pool caps concurrent handles and that
// a release unblocks the next acquire.
func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(2, func() *Client { return New("http://pose", "http://detect") })

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if p.Available() != 0 {
		t.Errorf("Expected 0 available, got %d", p.Available())
	}

	// terceiro tem que esperar
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(short); err == nil {
		t.Fatalf("Expected third acquire to time out")
	}

	p.Release(a)
	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	p.Release(b)
	p.Release(c)
	if p.Available() != 2 {
		t.Errorf("Expected 2 available after releases, got %d", p.Available())
	}
}

// TestPoolAcquireUnblocksOnRelease verifies a blocked acquire wakes up when
// another goroutine returns its handle.
func TestPoolAcquireUnblocksOnRelease(t *testing.T) {
	p := NewPool(1, func() *Client { return New("http://pose", "http://detect") })

	held, _ := p.Acquire(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Release(held)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire never unblocked: %v", err)
	}
	p.Release(got)
}

// TestPoolWarmup verifies warmup probes every handle and leaves the pool
// full.
func TestPoolWarmup(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			hits.Add(1)
		}
	}))
	defer srv.Close()

	p := NewPool(3, func() *Client { return New(srv.URL, srv.URL) })
	p.Warmup(context.Background())

	if got := hits.Load(); got != 3 {
		t.Errorf("Expected 3 health probes, got %d", got)
	}
	if p.Available() != 3 {
		t.Errorf("Expected full pool after warmup, got %d", p.Available())
	}
}
