// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package session

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pbnjay/memory"
	"github.com/valyala/fastrand"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/pixbuf"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrTooLarge = errors.New("image exceeds session memory budget")
)

// Default memory budget for all sessions: a quarter of physical memory
func DefaultBudget() int64 {
	return int64(memory.TotalMemory() / 4)
}

// Sessions by ID. When the pixel buffers of all sessions exceed the memory
// budget, the least recently used sessions are evicted.
type Store struct {
	Interpolation curve.Interpolation // for new sessions
	Log           io.Writer

	mu       sync.Mutex
	budget   int64
	used     int64
	sessions map[string]*list.Element
	lru      *list.List // front is most recently used
}

func NewStore(budget int64, ip curve.Interpolation, log io.Writer) *Store {
	return &Store{
		Interpolation: ip,
		Log:           log,
		budget:        budget,
		sessions:      map[string]*list.Element{},
		lru:           list.New(),
	}
}

func newID() string {
	return fmt.Sprintf("%08x%08x", fastrand.Uint32(), fastrand.Uint32())
}

// Starts a new session on the given image, evicting old sessions as needed
func (st *Store) Create(fileName string, original *pixbuf.Buffer) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := newID()
	for st.sessions[id] != nil {
		id = newID()
	}
	s, err := New(id, fileName, original, st.Interpolation)
	if err != nil {
		return nil, err
	}
	size := s.Size()
	if size > st.budget {
		return nil, fmt.Errorf("%w: %s needs %d MB of %d MB", ErrTooLarge,
			original.DimensionsToString(), size>>20, st.budget>>20)
	}
	for st.used+size > st.budget {
		st.evictOldest()
	}
	st.sessions[id] = st.lru.PushFront(s)
	st.used += size
	st.logf("%s: new session for %s pixel image %s\n", id, original.DimensionsToString(), fileName)
	return s, nil
}

// Returns the session with the given ID and marks it as recently used
func (st *Store) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	st.lru.MoveToFront(e)
	return e.Value.(*Session), nil
}

func (st *Store) Delete(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	st.remove(e)
	return nil
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Bytes held by all sessions
func (st *Store) Used() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.used
}

func (st *Store) evictOldest() {
	e := st.lru.Back()
	if e == nil {
		return
	}
	s := e.Value.(*Session)
	st.logf("%s: evicting session for %s\n", s.ID, s.FileName)
	st.remove(e)
}

func (st *Store) remove(e *list.Element) {
	s := st.lru.Remove(e).(*Session)
	delete(st.sessions, s.ID)
	st.used -= s.Size()
}

func (st *Store) logf(format string, args ...interface{}) {
	if st.Log != nil {
		fmt.Fprintf(st.Log, format, args...)
	}
}
