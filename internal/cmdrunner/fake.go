package cmdrunner

import (
	"context"
	"sync"
)

// FakeRunner is a scripted Runner for tests. Handler decides the outcome of
// every Run call; Paths backs LookPath. All calls are recorded.
type FakeRunner struct {
	mu      sync.Mutex
	calls   []Command
	Handler func(cmd Command) (Output, error)
	Paths   map[string]string
}

func (f *FakeRunner) Run(_ context.Context, cmd Command) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.Handler == nil {
		return Output{}, nil
	}
	return f.Handler(cmd)
}

func (f *FakeRunner) LookPath(name string) (string, bool) {
	p, ok := f.Paths[name]
	return p, ok
}

// Calls returns a copy of every command passed to Run so far.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}
