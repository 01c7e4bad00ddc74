package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/poltergeist/wraith/pkg/bundler"
	"github.com/poltergeist/wraith/pkg/types"
)

// FakeBundlers is a bundler.Factory that hands out FakeBundlers and keeps them
type FakeBundlers struct {
	// FactoryErr is returned by Factory instead of a bundler
	FactoryErr error
	// RunErr is the result of every Run
	RunErr error
	// InitialErr makes the first build of every watch session fail
	InitialErr error
	// Journal, when set, records every Dispose as "bundler:dispose" for the bundler's app
	Journal *Journal

	mu      sync.Mutex
	created []*FakeBundler
}

// NewFakeBundlers creates an empty factory
func NewFakeBundlers() *FakeBundlers {
	return &FakeBundlers{}
}

// Factory implements bundler.Factory
func (f *FakeBundlers) Factory(opts bundler.Options) (bundler.Bundler, bundler.Disposable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FactoryErr != nil {
		return nil, nil, f.FactoryErr
	}
	b := &FakeBundler{
		Options:    opts,
		runErr:     f.RunErr,
		initialErr: f.InitialErr,
		journal:    f.Journal,
		watching:   make(chan struct{}),
	}
	f.created = append(f.created, b)
	return b, b, nil
}

// Created returns every bundler handed out, oldest first
func (f *FakeBundlers) Created() []*FakeBundler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeBundler(nil), f.created...)
}

// Count returns how many bundlers were created
func (f *FakeBundlers) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// Last returns the newest bundler, nil when none
func (f *FakeBundlers) Last() *FakeBundler {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// FakeBundler reports builds on demand. Watch reports the initial build on its own,
// like a real bundler; rebuilds are reported with Emit.
type FakeBundler struct {
	Options bundler.Options

	runErr     error
	initialErr error
	journal    *Journal

	// emitMu keeps callbacks from overlapping
	emitMu sync.Mutex

	mu           sync.Mutex
	fn           bundler.EventFunc
	runs         int
	emitted      int
	unsubscribed bool
	disposed     bool
	watching     chan struct{}
}

var (
	_ bundler.Bundler    = (*FakeBundler)(nil)
	_ bundler.Disposable = (*FakeBundler)(nil)
)

// Run implements bundler.Bundler
func (b *FakeBundler) Run(ctx context.Context) (*types.BuildEvent, error) {
	b.mu.Lock()
	b.runs++
	err := b.runErr
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &types.BuildEvent{Type: types.BuildEventSuccess, Duration: time.Millisecond, Output: b.Options.OutDir}, nil
}

// Watch implements bundler.Bundler
func (b *FakeBundler) Watch(ctx context.Context, fn bundler.EventFunc) (bundler.Subscription, error) {
	b.mu.Lock()
	b.fn = fn
	close(b.watching)
	initialErr := b.initialErr
	b.mu.Unlock()

	go func() {
		if initialErr != nil {
			b.Emit(nil, initialErr)
			return
		}
		b.EmitSuccess()
	}()
	return &fakeSubscription{b: b}, nil
}

// Dispose implements bundler.Disposable
func (b *FakeBundler) Dispose(ctx context.Context) error {
	b.mu.Lock()
	b.disposed = true
	b.mu.Unlock()
	if b.journal != nil {
		b.journal.Record(Call{Plugin: "bundler", Hook: "dispose", App: b.Options.App})
	}
	return nil
}

// Emit reports one build to the watch callback. It returns false when nothing
// is subscribed.
func (b *FakeBundler) Emit(event *types.BuildEvent, err error) bool {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	fn := b.fn
	active := fn != nil && !b.unsubscribed
	if active {
		b.emitted++
	}
	b.mu.Unlock()

	if !active {
		return false
	}
	fn(event, err)
	return true
}

// EmitSuccess reports a successful build of changed
func (b *FakeBundler) EmitSuccess(changed ...string) bool {
	return b.Emit(&types.BuildEvent{
		Type:         types.BuildEventSuccess,
		ChangedFiles: changed,
		Duration:     time.Millisecond,
		Output:       b.Options.OutDir,
	}, nil)
}

// WaitWatching blocks until Watch was called or timeout passed
func (b *FakeBundler) WaitWatching(timeout time.Duration) bool {
	select {
	case <-b.watching:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Runs returns how often Run was called
func (b *FakeBundler) Runs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

// Emitted returns how many builds reached the callback
func (b *FakeBundler) Emitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitted
}

// Unsubscribed reports whether the watch subscription ended
func (b *FakeBundler) Unsubscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribed
}

// Disposed reports whether Dispose ran
func (b *FakeBundler) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

type fakeSubscription struct {
	b *FakeBundler
}

// Unsubscribe only flips a flag, so it is safe inside the callback
func (s *fakeSubscription) Unsubscribe(ctx context.Context) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.unsubscribed = true
	return nil
}
