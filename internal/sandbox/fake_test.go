package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// fakeRuntime is an in-memory Runtime that records every mutating call.
type fakeRuntime struct {
	mu      sync.Mutex
	handles map[string]Status
	calls   []string

	// statusHook, when set, runs before each Status lookup and may mutate handles.
	statusHook func(name string, handles map[string]Status)
	removeErr  map[string]error
	listErr    error
	statusErr  error
}

func newFakeRuntime(handles map[string]Status) *fakeRuntime {
	if handles == nil {
		handles = map[string]Status{}
	}
	return &fakeRuntime{handles: handles, removeErr: map[string]error{}}
}

func (f *fakeRuntime) Status(ctx context.Context, name string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "status "+name)
	if f.statusErr != nil {
		return Absent, f.statusErr
	}
	if f.statusHook != nil {
		f.statusHook(name, f.handles)
	}
	return f.handles[name], nil
}

func (f *fakeRuntime) List(ctx context.Context, prefix string) ([]Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list "+prefix)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Handle
	for name, st := range f.handles {
		if strings.HasPrefix(name, prefix) {
			out = append(out, Handle{Name: name, Status: st})
		}
	}
	return out, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "remove "+name)
	if err := f.removeErr[name]; err != nil {
		return err
	}
	delete(f.handles, name)
	return nil
}

func (f *fakeRuntime) Command(spec LaunchSpec) *exec.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("command %s attach=%v", spec.Name, spec.Attach))
	return exec.Command("true")
}

func (f *fakeRuntime) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "remove ") || strings.HasPrefix(c, "command ") {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRuntime) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handles[name]
	return ok
}

func (f *fakeRuntime) set(name string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles[name] = status
}
