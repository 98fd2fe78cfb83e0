package odoo

import (
	"context"
	"testing"
	"time"
)

func TestFieldCacheStats(t *testing.T) {
	fc := NewFieldCache()

	if _, ok := fc.Get("res.partner"); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	fc.Put("res.partner", map[string]map[string]any{"name": {"type": "char"}})
	fields, ok := fc.Get("res.partner")
	if !ok || fields["name"]["type"] != "char" {
		t.Fatalf("unexpected cached fields: %v", fields)
	}

	s := fc.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", s.HitRate)
	}
}

func TestFieldCacheInvalidateIsPerModel(t *testing.T) {
	fc := NewFieldCache()
	fc.Put("res.partner", map[string]map[string]any{"name": {"type": "char"}})
	fc.Put("res.users", map[string]map[string]any{"login": {"type": "char"}})

	fc.Invalidate("res.partner")
	if _, ok := fc.Get("res.partner"); ok {
		t.Fatal("expected invalidated model to miss")
	}
	if _, ok := fc.Get("res.users"); !ok {
		t.Fatal("expected other model to survive")
	}
}

func TestFieldCacheClearKeepsCounters(t *testing.T) {
	fc := NewFieldCache()
	fc.Put("res.partner", map[string]map[string]any{"name": {"type": "char"}})
	fc.Get("res.partner")
	fc.Clear()

	s := fc.Stats()
	if s.Entries != 0 {
		t.Fatalf("expected empty cache, got %d entries", s.Entries)
	}
	if s.Hits != 1 {
		t.Fatalf("expected counters to survive clear, got %+v", s)
	}
}

const poolTestURL = "http://127.0.0.1:1/xmlrpc/2/object"

func TestRPCPoolCapsClientsPerEndpoint(t *testing.T) {
	p := NewRPCPool(time.Second)
	ctx := context.Background()

	a, err := p.Acquire(ctx, "object", poolTestURL)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	b, err := p.Acquire(ctx, "object", poolTestURL)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if a == b {
		t.Fatal("expected two distinct clients")
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(short, "object", poolTestURL); !IsKind(err, KindConnection) {
		t.Fatalf("expected connection error when pool exhausted, got %v", err)
	}

	stats := p.Stats()
	if stats.ActiveConnections != maxClientsPerEndpoint || stats.Endpoints != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	p.Release("object", a)
	c, err := p.Acquire(ctx, "object", poolTestURL)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if c != a {
		t.Fatal("expected the released client back")
	}
	if got := p.Stats().ConnectionsReused; got != 1 {
		t.Fatalf("expected one reuse, got %d", got)
	}

	p.Release("object", b)
	p.Release("object", c)
	p.Close()
	if got := p.Stats(); got.ActiveConnections != 0 || got.Endpoints != 0 {
		t.Fatalf("expected empty pool after close, got %+v", got)
	}
}

func TestRPCPoolBlocksUntilRelease(t *testing.T) {
	p := NewRPCPool(time.Second)
	ctx := context.Background()

	a, err := p.Acquire(ctx, "object", poolTestURL)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := p.Acquire(ctx, "object", poolTestURL); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Release("object", a)
		close(released)
	}()

	c, err := p.Acquire(ctx, "object", poolTestURL)
	if err != nil {
		t.Fatalf("blocked acquire: %v", err)
	}
	<-released
	if c != a {
		t.Fatal("expected the released client")
	}
}

func TestRPCPoolDiscardFreesCapacity(t *testing.T) {
	p := NewRPCPool(time.Second)
	ctx := context.Background()

	a, err := p.Acquire(ctx, "object", poolTestURL)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Discard("object", a)
	if got := p.Stats().ActiveConnections; got != 0 {
		t.Fatalf("expected discard to drop the client, got %d active", got)
	}

	// Capacity freed: a full set of fresh clients is available again.
	for i := 0; i < maxClientsPerEndpoint; i++ {
		if _, err := p.Acquire(ctx, "object", poolTestURL); err != nil {
			t.Fatalf("acquire %d after discard: %v", i, err)
		}
	}
}

func TestRPCPoolTracksEndpointsSeparately(t *testing.T) {
	p := NewRPCPool(time.Second)
	ctx := context.Background()

	if _, err := p.Acquire(ctx, "common", poolTestURL); err != nil {
		t.Fatalf("acquire common: %v", err)
	}
	if _, err := p.Acquire(ctx, "object", poolTestURL); err != nil {
		t.Fatalf("acquire object: %v", err)
	}

	stats := p.Stats()
	if stats.Endpoints != 2 || stats.ActiveConnections != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
