package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergioferragut/data-chat/internal/event"
)

const sid = "01JABCDEFGHJKMNPQRSTVWXYZ0"

func TestBaseName(t *testing.T) {
	c := NewController(newFakeRuntime(nil))

	assert.Equal(t, "firebolt-mcp-npqrstvwxyz0", c.BaseName(sid))
	assert.Equal(t, "firebolt-mcp-short", c.BaseName("short"))
	assert.Equal(t, "firebolt-mcp-a-b-c", c.BaseName("a/b c"))

	c = NewController(newFakeRuntime(nil), WithPrefix("test-"))
	assert.Equal(t, "test-npqrstvwxyz0", c.BaseName(sid))
}

func TestProvision_BackToBackSessionsAreIsolated(t *testing.T) {
	rt := newFakeRuntime(nil)
	c := NewController(rt)

	idA, idB := ulid.Make().String(), ulid.Make().String()
	require.NotEqual(t, c.BaseName(idA), c.BaseName(idB))

	a := c.Provision(context.Background(), idA, "")
	rt.set(a.Name, Running)

	b := c.Provision(context.Background(), idB, "")
	rt.set(b.Name, Running)

	assert.NotEqual(t, a.Name, b.Name)
	assert.True(t, rt.has(a.Name), "provisioning %s removed %s", idB, a.Name)
	var removedA int
	for _, m := range rt.mutations() {
		if m == "remove "+a.Name {
			removedA++
		}
	}
	assert.Equal(t, 1, removedA, "only A's own pre-launch remove may touch its name")
}

func TestProvision_ReuseRunning(t *testing.T) {
	rt := newFakeRuntime(map[string]Status{"firebolt-mcp-npqrstvwxyz0": Running})
	c := NewController(rt)

	a := c.Provision(context.Background(), sid, "firebolt-mcp-npqrstvwxyz0")

	assert.Equal(t, Assignment{Name: "firebolt-mcp-npqrstvwxyz0", Reused: true}, a)
	assert.Empty(t, rt.mutations(), "a running recorded handle must be reused without remove or create")
	assert.True(t, a.Launch("img", nil).Attach)
}

func TestProvision_StoppedPreviousIsReplaced(t *testing.T) {
	prev := "firebolt-mcp-npqrstvwxyz0-1700000000000"
	rt := newFakeRuntime(map[string]Status{prev: Exited})
	c := NewController(rt)

	a := c.Provision(context.Background(), sid, prev)

	assert.Equal(t, "firebolt-mcp-npqrstvwxyz0", a.Name)
	assert.False(t, a.Reused)
	assert.False(t, rt.has(prev))
	assert.Equal(t, []string{"remove " + prev, "remove firebolt-mcp-npqrstvwxyz0"}, rt.mutations())
}

func TestProvision_AbsentPreviousFallsThrough(t *testing.T) {
	rt := newFakeRuntime(nil)
	c := NewController(rt)

	a := c.Provision(context.Background(), sid, "firebolt-mcp-gone")

	assert.Equal(t, Assignment{Name: "firebolt-mcp-npqrstvwxyz0"}, a)
	assert.Equal(t, []string{"remove firebolt-mcp-npqrstvwxyz0"}, rt.mutations())
}

func TestProvision_FreshRemovesStaleBaseName(t *testing.T) {
	rt := newFakeRuntime(map[string]Status{"firebolt-mcp-npqrstvwxyz0": Exited})
	c := NewController(rt)

	a := c.Provision(context.Background(), sid, "")

	assert.Equal(t, "firebolt-mcp-npqrstvwxyz0", a.Name)
	assert.False(t, a.Renamed)
	assert.False(t, rt.has("firebolt-mcp-npqrstvwxyz0"))
}

func TestProvision_RaceCheckDisambiguates(t *testing.T) {
	base := "firebolt-mcp-npqrstvwxyz0"
	rt := newFakeRuntime(nil)
	// A concurrent creator starts a container under the base name between
	// our remove and the re-check.
	rt.statusHook = func(name string, handles map[string]Status) {
		if name == base {
			handles[base] = Running
		}
	}
	clock := time.UnixMilli(1700000000000)
	c := NewController(rt, WithClock(func() time.Time { return clock }))

	var a Assignment
	require.NotPanics(t, func() {
		a = c.Provision(context.Background(), sid, "")
	})

	assert.NotEqual(t, base, a.Name)
	assert.True(t, strings.HasPrefix(a.Name, base+"-"))
	assert.Equal(t, base+"-1700000000000", a.Name)
	assert.True(t, a.Renamed)

	// The disambiguator keeps increasing even when the clock does not.
	b := c.Provision(context.Background(), sid, "")
	assert.Equal(t, base+"-1700000000001", b.Name)
}

func TestProvision_RuntimeErrorsAreSwallowed(t *testing.T) {
	rt := newFakeRuntime(nil)
	rt.statusErr = errors.New("Cannot connect to the Docker daemon")
	rt.removeErr["firebolt-mcp-npqrstvwxyz0"] = errors.New("daemon unavailable")
	c := NewController(rt)

	a := c.Provision(context.Background(), sid, "firebolt-mcp-old")

	assert.Equal(t, Assignment{Name: "firebolt-mcp-npqrstvwxyz0"}, a)
}

func TestProvision_ConcurrentSuffixesAreUnique(t *testing.T) {
	base := "firebolt-mcp-npqrstvwxyz0"
	rt := newFakeRuntime(nil)
	rt.statusHook = func(name string, handles map[string]Status) {
		if name == base {
			handles[base] = Running
		}
	}
	fixed := time.UnixMilli(1700000000000)
	c := NewController(rt, WithClock(func() time.Time { return fixed }))

	names := make([]string, 20)
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names[i] = c.Provision(context.Background(), sid, "").Name
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
	}
}

func TestProvision_PublishesEvent(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	got := make(chan event.SandboxProvisionedData, 1)
	bus.Subscribe(event.SandboxProvisioned, func(e event.Event) {
		got <- e.Data.(event.SandboxProvisionedData)
	})

	rt := newFakeRuntime(map[string]Status{"firebolt-mcp-x": Running})
	c := NewController(rt, WithBus(bus))
	c.Provision(context.Background(), sid, "firebolt-mcp-x")

	select {
	case d := <-got:
		assert.Equal(t, sid, d.SessionID)
		assert.Equal(t, "firebolt-mcp-x", d.Name)
		assert.True(t, d.Reused)
	case <-time.After(time.Second):
		t.Fatal("no sandbox.provisioned event")
	}
}

func TestTeardown(t *testing.T) {
	rt := newFakeRuntime(map[string]Status{"firebolt-mcp-a": Running})
	c := NewController(rt)

	require.NoError(t, c.Teardown(context.Background(), "firebolt-mcp-a"))
	assert.False(t, rt.has("firebolt-mcp-a"))

	require.NoError(t, c.Teardown(context.Background(), "firebolt-mcp-a"), "absent handle")
	require.NoError(t, c.Teardown(context.Background(), ""))

	rt.removeErr["firebolt-mcp-b"] = errors.New("permission denied")
	err := c.Teardown(context.Background(), "firebolt-mcp-b")
	assert.ErrorContains(t, err, "firebolt-mcp-b")
}
