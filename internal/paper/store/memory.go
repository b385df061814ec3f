package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperhub/paperhub/internal/paper"
	"github.com/paperhub/paperhub/pkg/metrics"
)

// watcher channels are buffered; when a slow consumer falls behind we drop
// its oldest snapshot so it always converges on the latest state.
const watchBuffer = 64

// MemoryStore is the in-memory Store implementation used for unit tests and
// as the dev fallback when MongoDB is not configured.
type MemoryStore struct {
	mu       sync.Mutex
	papers   map[string]*paper.Paper
	comments map[string]*paper.Comment

	nextWatcher     int
	paperWatchers   map[int]chan []paper.Paper
	commentWatchers map[int]*commentWatcher

	// ConflictHook, when set, forces the given CAS attempt to be treated as
	// lost to a concurrent writer. Used to simulate contention in tests.
	ConflictHook func(attempt int) bool
}

type commentWatcher struct {
	paperID string
	ch      chan []paper.Comment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		papers:          make(map[string]*paper.Paper),
		comments:        make(map[string]*paper.Comment),
		paperWatchers:   make(map[int]chan []paper.Paper),
		commentWatchers: make(map[int]*commentWatcher),
	}
}

func (m *MemoryStore) InsertPaper(ctx context.Context, p *paper.Paper) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.LikedBy == nil {
		p.LikedBy = []string{}
	}
	m.papers[p.ID] = clonePaper(p)
	m.notifyPapersLocked()
	return p.ID, nil
}

func (m *MemoryStore) GetPaper(ctx context.Context, id string) (*paper.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePaper(p), nil
}

func (m *MemoryStore) ListPapers(ctx context.Context) ([]paper.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paperSnapshotLocked(), nil
}

func (m *MemoryStore) UpdatePaperFields(ctx context.Context, id, title, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	p.Title = title
	p.Content = content
	p.UpdatedAt = time.Now().UTC()
	p.Version++
	m.notifyPapersLocked()
	return nil
}

// UpdatePaperTx implements the bounded-retry compare-and-swap transaction:
// read a snapshot copy, run fn on it, commit only when the stored version is
// still the one we read.
func (m *MemoryStore) UpdatePaperTx(ctx context.Context, id string, fn func(p *paper.Paper) error) (*paper.Paper, error) {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		metrics.LikeTxAttempts.Inc()

		m.mu.Lock()
		cur, ok := m.papers[id]
		if !ok {
			m.mu.Unlock()
			return nil, ErrNotFound
		}
		work := clonePaper(cur)
		readVersion := cur.Version
		m.mu.Unlock()

		if err := fn(work); err != nil {
			return nil, err
		}

		m.mu.Lock()
		cur, ok = m.papers[id]
		if !ok {
			m.mu.Unlock()
			return nil, ErrNotFound
		}
		conflicted := cur.Version != readVersion
		if !conflicted && m.ConflictHook != nil && m.ConflictHook(attempt) {
			conflicted = true
		}
		if conflicted {
			m.mu.Unlock()
			metrics.LikeTxConflicts.Inc()
			continue
		}
		work.Version = readVersion + 1
		m.papers[id] = clonePaper(work)
		m.notifyPapersLocked()
		m.mu.Unlock()
		return work, nil
	}
	metrics.LikeTxExhausted.Inc()
	return nil, ErrConflictExhausted
}

func (m *MemoryStore) DeletePaper(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[id]; !ok {
		return ErrNotFound
	}
	delete(m.papers, id)
	m.notifyPapersLocked()
	return nil
}

func (m *MemoryStore) InsertComment(ctx context.Context, c *paper.Comment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp == nil {
		now := time.Now().UTC()
		c.Timestamp = &now
	}
	cp := *c
	m.comments[c.ID] = &cp
	m.notifyCommentsLocked(c.PaperID)
	return c.ID, nil
}

func (m *MemoryStore) GetComment(ctx context.Context, id string) (*paper.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListComments(ctx context.Context, paperID string) ([]paper.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commentSnapshotLocked(paperID), nil
}

func (m *MemoryStore) DeleteComment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.comments, id)
	m.notifyCommentsLocked(c.PaperID)
	return nil
}

func (m *MemoryStore) WatchPapers(ctx context.Context) (*PaperSubscription, error) {
	m.mu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	ch := make(chan []paper.Paper, watchBuffer)
	m.paperWatchers[id] = ch
	// initial snapshot so subscribers start from current state
	ch <- m.paperSnapshotLocked()
	m.mu.Unlock()

	errs := make(chan error)
	sub := &PaperSubscription{Snapshots: ch, Errs: errs}
	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.paperWatchers, id)
			m.mu.Unlock()
			close(ch)
			close(errs)
		})
	}
	go func() {
		<-ctx.Done()
		sub.cancel()
	}()
	return sub, nil
}

func (m *MemoryStore) WatchComments(ctx context.Context, paperID string) (*CommentSubscription, error) {
	m.mu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	w := &commentWatcher{paperID: paperID, ch: make(chan []paper.Comment, watchBuffer)}
	m.commentWatchers[id] = w
	w.ch <- m.commentSnapshotLocked(paperID)
	m.mu.Unlock()

	errs := make(chan error)
	sub := &CommentSubscription{Snapshots: w.ch, Errs: errs}
	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.commentWatchers, id)
			m.mu.Unlock()
			close(w.ch)
			close(errs)
		})
	}
	go func() {
		<-ctx.Done()
		sub.cancel()
	}()
	return sub, nil
}

func (m *MemoryStore) paperSnapshotLocked() []paper.Paper {
	out := make([]paper.Paper, 0, len(m.papers))
	for _, p := range m.papers {
		out = append(out, *clonePaper(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) commentSnapshotLocked(paperID string) []paper.Comment {
	out := []paper.Comment{}
	for _, c := range m.comments {
		if c.PaperID == paperID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// notify helpers run with m.mu held, so pushes for one watcher are ordered by
// commit order. A full buffer sheds the oldest snapshot.
func (m *MemoryStore) notifyPapersLocked() {
	snap := m.paperSnapshotLocked()
	for _, ch := range m.paperWatchers {
		pushPaperSnapshot(ch, snap)
		metrics.SnapshotsDelivered.WithLabelValues("papers").Inc()
	}
}

func (m *MemoryStore) notifyCommentsLocked(paperID string) {
	for _, w := range m.commentWatchers {
		if w.paperID != paperID {
			continue
		}
		pushCommentSnapshot(w.ch, m.commentSnapshotLocked(paperID))
		metrics.SnapshotsDelivered.WithLabelValues("comments").Inc()
	}
}

func pushPaperSnapshot(ch chan []paper.Paper, snap []paper.Paper) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func pushCommentSnapshot(ch chan []paper.Comment, snap []paper.Comment) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
