package rstate

import "sync"

// ReadLog maps each container to the keys read from it during one recording
// window, in first-read order and without duplicates.
type ReadLog map[*Container][]string

// Keys returns the keys read from c, or nil.
func (l ReadLog) Keys(c *Container) []string {
	return l[c]
}

// Containers returns every container that was read from.
func (l ReadLog) Containers() []*Container {
	out := make([]*Container, 0, len(l))
	for c := range l {
		out = append(out, c)
	}
	return out
}

// Recorder records which (container, key) pairs are read during one
// synchronous window. Windows do not nest: Start discards any unfinished
// window.
type Recorder struct {
	mu  sync.Mutex
	log ReadLog
}

// NewRecorder creates a Recorder with no window open.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// DefaultRecorder is shared by every container that is not given its own
// recorder. Sharing is only sound while all render passes run on a single
// logical thread; passes that may run in parallel need isolated recorders.
var DefaultRecorder = NewRecorder()

// Start opens a recording window.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = make(ReadLog)
}

// RecordRead adds key to c's set for the open window. It is a no-op when no
// window is open.
func (r *Recorder) RecordRead(c *Container, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.log == nil {
		return
	}
	keys := r.log[c]
	for _, k := range keys {
		if k == key {
			return
		}
	}
	r.log[c] = append(keys, key)
}

// Recording reports whether a window is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log != nil
}

// Finish closes the window and returns what was read. It returns an empty
// log when no window was open.
func (r *Recorder) Finish() ReadLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.log
	r.log = nil
	if log == nil {
		return ReadLog{}
	}
	return log
}
