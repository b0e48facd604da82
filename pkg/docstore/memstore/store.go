// Package memstore is an in-process docstore.Store with optimistic
// transactions, live listeners and change hooks.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/firebase/emulators-codelab/pkg/docstore"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 5 * time.Millisecond
)

var errConflict = errors.New("read set changed before commit")

type entry struct {
	data       map[string]any
	exists     bool
	version    uint64
	updateTime time.Time
}

// Store keeps documents in memory. Every document and collection carries a
// version taken from a global sequence; versions outlive deletes so a
// delete-then-recreate is still seen as a change by transactions.
type Store struct {
	mu          sync.Mutex
	docs        map[string]*entry
	children    map[string]map[string]struct{}
	colVersions map[string]uint64
	seq         uint64

	watchers  map[uint64]*watcher
	hooks     map[uint64]func(docstore.Change)
	nextID    uint64
	closed    bool
	closeOnce sync.Once

	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

type Option func(*Store)

// WithMaxAttempts bounds how many times RunTransaction runs its function.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between aborted transaction attempts.
func WithBackoff(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        map[string]*entry{},
		children:    map[string]map[string]struct{}{},
		colVersions: map[string]uint64{},
		watchers:    map[uint64]*watcher{},
		hooks:       map[uint64]func(docstore.Change){},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memstore closed")
	}
	return nil
}

// Close stops every listener. Reads and writes keep working.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		ws := make([]*watcher, 0, len(s.watchers))
		for id, w := range s.watchers {
			ws = append(ws, w)
			delete(s.watchers, id)
		}
		s.mu.Unlock()
		for _, w := range ws {
			w.stop()
		}
	})
	return nil
}

// OnChange registers fn to be called once for every committed document
// write. fn runs on the committing goroutine and must not block.
func (s *Store) OnChange(fn func(docstore.Change)) (remove func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.hooks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}
}

func (s *Store) Get(_ context.Context, path string) (*docstore.Document, error) {
	if err := docstore.ValidateDocument(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, _ := s.readDocLocked(path)
	return doc, nil
}

func (s *Store) List(_ context.Context, collectionPath string) ([]*docstore.Document, error) {
	if err := docstore.ValidateCollection(collectionPath); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, _ := s.listLocked(collectionPath)
	return docs, nil
}

func (s *Store) Set(ctx context.Context, path string, data map[string]any, opts ...docstore.SetOption) error {
	o := docstore.ApplySetOptions(opts)
	return s.writeOne(ctx, op{kind: opSet, path: path, data: data, merge: o.Merge})
}

func (s *Store) Update(ctx context.Context, path string, data map[string]any) error {
	return s.writeOne(ctx, op{kind: opUpdate, path: path, data: data})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.writeOne(ctx, op{kind: opDelete, path: path})
}

func (s *Store) Add(ctx context.Context, collectionPath string, data map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collectionPath); err != nil {
		return "", err
	}
	id := docstore.NewID()
	if err := s.writeOne(ctx, op{kind: opSet, path: docstore.Join(collectionPath, id), data: data}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) writeOne(_ context.Context, o op) error {
	prepared, err := prepare(o)
	if err != nil {
		return err
	}
	return s.commit(nil, []op{prepared})
}

// RunTransaction runs fn and commits its buffered writes atomically. When a
// document or collection read by fn changed before commit, the attempt is
// discarded and fn runs again after a jittered backoff.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s)
		if err := fn(ctx, tx); err != nil {
			if !errors.Is(err, docstore.ErrAborted) {
				return err
			}
			lastErr = err
		} else {
			err := s.commit(tx.reads, tx.writes)
			if err == nil {
				return nil
			}
			if !errors.Is(err, errConflict) {
				return err
			}
			lastErr = err
		}
		if attempt < s.maxAttempts {
			if err := s.sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", docstore.ErrAborted, s.maxAttempts, lastErr)
}

func (s *Store) sleep(ctx context.Context, attempt int) error {
	if s.backoff <= 0 {
		return nil
	}
	base := s.backoff * time.Duration(1<<min(attempt-1, 6))
	delay := base/2 + rand.N(base/2+1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Store) readDocLocked(path string) (*docstore.Document, uint64) {
	e, ok := s.docs[path]
	if !ok {
		return docstore.Missing(path), 0
	}
	if !e.exists {
		return docstore.Missing(path), e.version
	}
	return &docstore.Document{
		Path:       path,
		ID:         docstore.ID(path),
		Data:       docstore.CloneData(e.data),
		Exists:     true,
		UpdateTime: e.updateTime,
	}, e.version
}

func (s *Store) listLocked(collectionPath string) ([]*docstore.Document, uint64) {
	ids := make([]string, 0, len(s.children[collectionPath]))
	for id := range s.children[collectionPath] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]*docstore.Document, 0, len(ids))
	for _, id := range ids {
		doc, _ := s.readDocLocked(docstore.Join(collectionPath, id))
		docs = append(docs, doc)
	}
	return docs, s.colVersions[collectionPath]
}

// commit validates reads and applies writes under the store lock, then
// fans the resulting changes out to hooks and listeners.
func (s *Store) commit(reads *readSet, writes []op) error {
	s.mu.Lock()
	if reads != nil {
		for path, seen := range reads.docs {
			if cur := s.docVersionLocked(path); cur != seen {
				s.mu.Unlock()
				return fmt.Errorf("%w: %s", errConflict, path)
			}
		}
		for path, seen := range reads.collections {
			if cur := s.colVersions[path]; cur != seen {
				s.mu.Unlock()
				return fmt.Errorf("%w: %s", errConflict, path)
			}
		}
	}
	if len(writes) == 0 {
		s.mu.Unlock()
		return nil
	}

	// stage every write first so a failing update leaves nothing applied
	type staged struct {
		before map[string]any
		after  map[string]any
		exists bool
		had    bool
	}
	stage := map[string]*staged{}
	order := []string{}
	for _, w := range writes {
		st, ok := stage[w.path]
		if !ok {
			st = &staged{}
			if e, found := s.docs[w.path]; found && e.exists {
				st.before = e.data
				st.after = e.data
				st.exists = true
				st.had = true
			}
			stage[w.path] = st
			order = append(order, w.path)
		}
		switch w.kind {
		case opSet:
			if st.exists {
				st.after = docstore.ApplySet(st.after, w.data, w.merge)
			} else {
				st.after = docstore.ApplySet(nil, w.data, false)
			}
			st.exists = true
		case opUpdate:
			if !st.exists {
				s.mu.Unlock()
				return fmt.Errorf("update %s: %w", w.path, docstore.ErrNotFound)
			}
			st.after = docstore.ApplyUpdate(st.after, w.data)
		case opDelete:
			st.after = nil
			st.exists = false
		}
	}

	now := s.now().UTC()
	changes := make([]docstore.Change, 0, len(order))
	for _, path := range order {
		st := stage[path]
		if !st.had && !st.exists {
			continue
		}
		s.seq++
		e, ok := s.docs[path]
		if !ok {
			e = &entry{}
			s.docs[path] = e
		}
		change := docstore.Change{Path: path, Time: now}
		if st.had {
			change.Before = &docstore.Document{Path: path, ID: docstore.ID(path), Data: docstore.CloneData(st.before), Exists: true, UpdateTime: e.updateTime}
		}
		e.version = s.seq
		e.exists = st.exists
		e.data = st.after
		e.updateTime = now
		if st.exists {
			change.After = &docstore.Document{Path: path, ID: docstore.ID(path), Data: docstore.CloneData(st.after), Exists: true, UpdateTime: now}
		}

		parent := docstore.Parent(path)
		s.colVersions[parent] = s.seq
		kids := s.children[parent]
		if st.exists {
			if kids == nil {
				kids = map[string]struct{}{}
				s.children[parent] = kids
			}
			kids[docstore.ID(path)] = struct{}{}
		} else if kids != nil {
			delete(kids, docstore.ID(path))
		}
		changes = append(changes, change)
	}

	hooks := make([]func(docstore.Change), 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	var notify []*watcher
	for _, w := range s.watchers {
		for _, c := range changes {
			if w.interested(c.Path) {
				notify = append(notify, w)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, c := range changes {
		for _, h := range hooks {
			h(c)
		}
	}
	for _, w := range notify {
		w.signal()
	}
	return nil
}

func (s *Store) docVersionLocked(path string) uint64 {
	if e, ok := s.docs[path]; ok {
		return e.version
	}
	return 0
}
