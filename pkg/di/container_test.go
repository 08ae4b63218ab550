package di

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/pkg/testsupport"
	"github.com/goliatone/go-query-sync/realtime"
)

func TestNewContainer(t *testing.T) {
	config := Config{
		Cache: cache.Config{
			DefaultFreshness: time.Minute,
			EvictionGrace:    10 * time.Minute,
		},
		Realtime: realtime.Config{
			ReconnectMin: 100 * time.Millisecond,
			ReconnectMax: 5 * time.Second,
		},
	}

	container, err := NewContainer(config)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	if container.Cache() == nil {
		t.Error("Container should have a non-nil query cache")
	}

	if container.Bridge() != nil {
		t.Error("Container without a change feed should have no bridge")
	}

	// Verify config is stored correctly
	stored := container.Config()
	if stored.Cache.DefaultFreshness != config.Cache.DefaultFreshness {
		t.Errorf("Expected freshness %v, got %v", config.Cache.DefaultFreshness, stored.Cache.DefaultFreshness)
	}
	if got := container.Cache().Config().EvictionGrace; got != config.Cache.EvictionGrace {
		t.Errorf("Expected eviction grace %v, got %v", config.Cache.EvictionGrace, got)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	config := container.Config()
	if config.Cache != cache.DefaultConfig() {
		t.Errorf("Expected default cache config, got %+v", config.Cache)
	}
	if config.Realtime != realtime.DefaultConfig() {
		t.Errorf("Expected default realtime config, got %+v", config.Realtime)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	invalid := DefaultConfig()
	invalid.Cache.EvictionGrace = -time.Second

	if _, err := NewContainer(invalid); err == nil {
		t.Error("NewContainer() should fail with an invalid cache config")
	}

	invalid = DefaultConfig()
	invalid.Realtime.ReconnectMax = 0

	if _, err := NewContainer(invalid, WithChangeFeed(testsupport.NewFakeFeed())); err == nil {
		t.Error("NewContainer() should fail with an invalid realtime config")
	}
}

func TestContainerSingletonBehavior(t *testing.T) {
	container, err := NewContainerWithDefaults(WithChangeFeed(testsupport.NewFakeFeed()))
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	if container.Cache() != container.Cache() {
		t.Error("Cache() should return the same instance")
	}
	if container.Bridge() == nil || container.Bridge() != container.Bridge() {
		t.Error("Bridge() should return the same non-nil instance")
	}
}

func TestNewCachedService_RegistersRoute(t *testing.T) {
	feed := testsupport.NewFakeFeed()
	container, err := NewContainerWithDefaults(WithChangeFeed(feed))
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	svc := NewCachedService[testsupport.Contact](container, testsupport.NewFakeService(), "contacts")
	if svc.Keys().Kind != "contacts" {
		t.Errorf("Expected kind contacts, got %q", svc.Keys().Kind)
	}

	NewCachedService[testsupport.Contact](container, testsupport.NewFakeService(), "")

	tables := container.Bridge().Tables()
	if len(tables) != 1 || tables[0] != "contacts" {
		t.Errorf("Expected only the contacts route, got %v", tables)
	}
}

func TestOpenRealtime(t *testing.T) {
	feed := testsupport.NewFakeFeed()
	container, err := NewContainerWithDefaults(WithChangeFeed(feed))
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}

	NewCachedService[testsupport.Contact](container, testsupport.NewFakeService(), "contacts")

	handles, err := container.OpenRealtime(context.Background())
	if err != nil {
		t.Fatalf("OpenRealtime() failed: %v", err)
	}
	if len(handles) != 1 || handles[0].Table() != "contacts" {
		t.Fatalf("Expected one contacts handle, got %v", handles)
	}

	if err := container.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	select {
	case <-handles[0].Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle should be closed with the container")
	}
	if state := handles[0].State(); state != realtime.StateClosed {
		t.Errorf("Expected closed handle, got %v", state)
	}
}

func TestOpenRealtime_WithoutFeed(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	handles, err := container.OpenRealtime(context.Background())
	if err != nil || handles != nil {
		t.Errorf("Expected no handles and no error, got %v, %v", handles, err)
	}
}
