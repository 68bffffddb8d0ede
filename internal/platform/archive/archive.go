// Package archive keeps the CSV output of recently persisted cohort runs in
// memory so the HTTP API can list and re-download them. It is a sink.Sink
// with bounded capacity: once full, the oldest run is evicted.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/auth"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/sink"
)

var ErrRunNotFound = errors.New("run not found")

// DefaultCapacity is the number of runs kept when none is configured.
const DefaultCapacity = 32

// Entry describes an archived run.
type Entry struct {
	Run       sink.Run `json:"run"`
	Positives int      `json:"positives"`
	Size      int64    `json:"size"`
	Hash      string   `json:"hash"`
	CreatedBy string   `json:"createdBy,omitempty"`
}

type storedRun struct {
	entry   Entry
	content []byte
}

// Archive is a thread-safe, in-memory store of cohort CSVs.
type Archive struct {
	mu       sync.RWMutex
	capacity int
	order    []string // run IDs, oldest first
	runs     map[string]*storedRun
}

// New returns an archive holding at most capacity runs. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Archive {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Archive{
		capacity: capacity,
		runs:     make(map[string]*storedRun),
	}
}

func (*Archive) Name() string { return "archive" }

// Write renders c as CSV and stores it under the run ID.
func (a *Archive) Write(ctx context.Context, run sink.Run, c cohort.Cohort) error {
	var buf bytes.Buffer
	if err := cohort.WriteCSV(&buf, c); err != nil {
		return err
	}
	sum := sha256.Sum256(buf.Bytes())

	stored := &storedRun{
		entry: Entry{
			Run:       run,
			Positives: c.Positives(),
			Size:      int64(buf.Len()),
			Hash:      hex.EncodeToString(sum[:]),
			CreatedBy: auth.SubjectFromContext(ctx),
		},
		content: buf.Bytes(),
	}

	id := run.ID.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.runs[id]; !exists {
		a.order = append(a.order, id)
	}
	a.runs[id] = stored
	if over := len(a.order) - a.capacity; over > 0 {
		for _, old := range a.order[:over] {
			delete(a.runs, old)
		}
		n := copy(a.order, a.order[over:])
		clear(a.order[n:])
		a.order = a.order[:n]
	}
	return nil
}

// Get returns the entry for id.
func (a *Archive) Get(id string) (*Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	e := s.entry
	return &e, nil
}

// Open returns a reader over the archived CSV for id.
func (a *Archive) Open(id string) (io.ReadCloser, *Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.runs[id]
	if !ok {
		return nil, nil, ErrRunNotFound
	}
	e := s.entry
	return io.NopCloser(bytes.NewReader(s.content)), &e, nil
}

// Delete removes id from the archive.
func (a *Archive) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runs[id]; !ok {
		return ErrRunNotFound
	}
	delete(a.runs, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns every entry, newest first.
func (a *Archive) List() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, 0, len(a.order))
	for i := len(a.order) - 1; i >= 0; i-- {
		out = append(out, a.runs[a.order[i]].entry)
	}
	return out
}

// Len reports how many runs are archived.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}
