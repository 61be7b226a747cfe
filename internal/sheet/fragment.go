package sheet

import "sync"

// Fragment is the externally visible place the active tab is remembered, such
// as a URL fragment. Subscribers hear about changes made by anyone else.
type Fragment interface {
	Get() string
	Set(v string)
	Subscribe(fn func(string)) (cancel func())
}

// MemoryFragment is a Fragment held in memory. Setting the current value again
// notifies nobody.
type MemoryFragment struct {
	mu    sync.Mutex
	value string
	subs  map[int]func(string)
	next  int
}

func NewMemoryFragment(initial string) *MemoryFragment {
	return &MemoryFragment{value: initial, subs: make(map[int]func(string))}
}

func (f *MemoryFragment) Get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Set stores v and calls every subscriber outside the lock.
func (f *MemoryFragment) Set(v string) {
	f.mu.Lock()
	if v == f.value {
		f.mu.Unlock()
		return
	}
	f.value = v
	fns := make([]func(string), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (f *MemoryFragment) Subscribe(fn func(string)) (cancel func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}
