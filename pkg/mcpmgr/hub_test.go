package mcpmgr

import (
	"context"
	"sync"
	"testing"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

func TestHubLoadReplacesPool(t *testing.T) {
	t.Parallel()

	factory := newMemoryFactory(t, fixtureServers())
	hub := NewHub(testOptions(factory.Transport))
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	if hub.Catalogue().Len() != 0 || hub.Pool() != nil {
		t.Fatalf("fresh hub should be empty")
	}
	if _, err := hub.Dispatch(context.Background(), "fixture.echo", nil); KindOf(err) != KindToolNotFound {
		t.Fatalf("dispatch on empty hub = %v", err)
	}

	var mu sync.Mutex
	var seen []int
	hub.OnCatalogueChanged(func(c *Catalogue) {
		mu.Lock()
		seen = append(seen, c.Len())
		mu.Unlock()
	})

	statuses := hub.Load(context.Background(), []registry.ServerDescriptor{{Name: "fixture", Command: "fixture"}})
	if len(statuses) != 1 || statuses[0].Status != StatusReady {
		t.Fatalf("statuses = %+v", statuses)
	}
	first := hub.Pool()

	hub.Load(context.Background(), []registry.ServerDescriptor{{Name: "mcp_todayinfo", Command: "mcp-todayinfo"}})
	if hub.Pool() == first {
		t.Fatalf("pool was not replaced")
	}
	if st := first.Connection("fixture").Status(); st != StatusStopped {
		t.Fatalf("previous pool connection = %s, want stopped", st)
	}
	if _, ok := hub.Catalogue().Lookup("mcp_todayinfo.get_date"); !ok {
		t.Fatalf("new catalogue missing get_date")
	}
	if _, ok := hub.Catalogue().Lookup("fixture.echo"); ok {
		t.Fatalf("old tools still visible")
	}
	res, err := hub.Dispatch(context.Background(), "mcp_todayinfo.get_date", nil)
	if err != nil || !res.Success {
		t.Fatalf("dispatch via hub: %+v %v", res, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != 3 || seen[len(seen)-1] != 2 {
		t.Fatalf("hub notifications = %v", seen)
	}
}
