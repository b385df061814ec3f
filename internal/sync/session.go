// Package sync holds the per-client session state: live snapshot folding,
// focus reconciliation and comment-subscription switching.
package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paperhub/paperhub/internal/paper"
	"github.com/paperhub/paperhub/internal/paper/store"
	"github.com/paperhub/paperhub/pkg/logger"
)

// resubscribeDelay paces re-establishing a broken live query.
const resubscribeDelay = time.Second

// SyncError is a non-fatal live-query failure. It carries the last-known-good
// snapshot so observers can keep rendering stale data instead of going blank.
type SyncError struct {
	Collection string
	Err        error
	Papers     []paper.Paper
	Comments   []paper.Comment
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Collection, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Session folds the ordered snapshot streams from the store into the state a
// single client observes: the paper list, the focused paper and its comment
// list. Session state is never mutated independently of a snapshot: every
// paper snapshot replaces the list wholesale and re-runs focus
// reconciliation, every comment snapshot replaces the comment list wholesale.
type Session struct {
	st store.Store

	// runCtx is the session lifetime, set by Start; comment subscriptions
	// are derived from it, not from any request context
	runCtx context.Context

	mu       sync.Mutex
	papers   []paper.Paper
	comments []paper.Comment
	focus    *paper.Paper
	editMode bool
	filter   string
	lastErr  *SyncError

	// generation guards the comment subscription: deliveries tagged with a
	// superseded generation are discarded, never applied to a newer selection
	gen           int
	commentCancel context.CancelFunc

	onPapers   func([]paper.Paper)
	onComments func(paperID string, cs []paper.Comment)
	onSyncErr  func(*SyncError)
}

func NewSession(st store.Store) *Session {
	return &Session{st: st}
}

// OnPapers registers a callback invoked (outside the session lock) after each
// applied paper snapshot. Must be set before Start.
func (s *Session) OnPapers(fn func([]paper.Paper)) { s.onPapers = fn }

// OnComments registers a callback for applied comment snapshots.
func (s *Session) OnComments(fn func(paperID string, cs []paper.Comment)) { s.onComments = fn }

// OnSyncError registers a callback for non-fatal subscription failures.
func (s *Session) OnSyncError(fn func(*SyncError)) { s.onSyncErr = fn }

// Start establishes the papers live query and keeps it alive until ctx is
// cancelled. Subscription errors degrade to a SyncError; a closed stream is
// re-established after a short delay.
func (s *Session) Start(ctx context.Context) error {
	s.runCtx = ctx
	sub, err := s.st.WatchPapers(ctx)
	if err != nil {
		return err
	}
	go s.paperLoop(ctx, sub)
	return nil
}

func (s *Session) paperLoop(ctx context.Context, sub *store.PaperSubscription) {
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case snap, ok := <-sub.Snapshots:
			if !ok {
				sub.Close()
				if ctx.Err() != nil {
					return
				}
				// stream ended while the session is still live: resubscribe
				select {
				case <-ctx.Done():
					return
				case <-time.After(resubscribeDelay):
				}
				next, err := s.st.WatchPapers(ctx)
				if err != nil {
					s.recordSyncError("papers", err)
					continue
				}
				sub = next
				continue
			}
			s.applyPapers(snap)
		case err, ok := <-sub.Errs:
			if ok && err != nil {
				s.recordSyncError("papers", err)
			}
		}
	}
}

// applyPapers replaces the paper list wholesale and reconciles the focus:
// fresher data for a still-present focus, full reset when it vanished.
func (s *Session) applyPapers(snap []paper.Paper) {
	s.mu.Lock()
	s.papers = snap
	var focusCleared bool
	if s.focus != nil {
		var found *paper.Paper
		for i := range snap {
			if snap[i].ID == s.focus.ID {
				found = &snap[i]
				break
			}
		}
		if found != nil {
			cp := *found
			s.focus = &cp
		} else {
			// deleted locally or remotely; drop dependent state too
			s.focus = nil
			s.comments = nil
			s.editMode = false
			s.gen++
			if s.commentCancel != nil {
				s.commentCancel()
				s.commentCancel = nil
			}
			focusCleared = true
		}
	}
	cb := s.onPapers
	s.mu.Unlock()

	if focusCleared {
		logger.Debugf("session: focused paper disappeared from snapshot, focus cleared")
	}
	if cb != nil {
		cb(snap)
	}
}

func (s *Session) recordSyncError(collection string, err error) {
	s.mu.Lock()
	se := &SyncError{
		Collection: collection,
		Err:        err,
		Papers:     s.papers,
		Comments:   s.comments,
	}
	s.lastErr = se
	cb := s.onSyncErr
	s.mu.Unlock()

	logger.Warnf("session: %v (keeping last-known-good state)", se)
	if cb != nil {
		cb(se)
	}
}

// Select switches the focused paper. The previous comment subscription is
// cancelled and its generation retired before the new one is established, so
// an in-flight stale delivery can never land on the new selection. Selecting
// the empty id just clears the focus. Must be called after Start.
func (s *Session) Select(paperID string) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.commentCancel != nil {
		s.commentCancel()
		s.commentCancel = nil
	}
	s.comments = nil
	s.editMode = false
	s.focus = nil
	if paperID == "" {
		s.mu.Unlock()
		return
	}
	for i := range s.papers {
		if s.papers[i].ID == paperID {
			cp := s.papers[i]
			s.focus = &cp
			break
		}
	}
	if s.focus == nil {
		// not in the local snapshot (yet); keep a provisional focus so the
		// reconciler picks up the real data on the next paper snapshot
		s.focus = &paper.Paper{ID: paperID}
	}
	cctx, cancel := context.WithCancel(s.runCtx)
	s.commentCancel = cancel
	s.mu.Unlock()

	sub, err := s.st.WatchComments(cctx, paperID)
	if err != nil {
		s.recordSyncError("comments", err)
		return
	}
	go s.commentLoop(cctx, gen, paperID, sub)
}

func (s *Session) commentLoop(ctx context.Context, gen int, paperID string, sub *store.CommentSubscription) {
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case snap, ok := <-sub.Snapshots:
			if !ok {
				sub.Close()
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(resubscribeDelay):
				}
				next, err := s.st.WatchComments(ctx, paperID)
				if err != nil {
					s.recordSyncError("comments", err)
					continue
				}
				sub = next
				continue
			}
			s.applyComments(gen, paperID, snap)
		case err, ok := <-sub.Errs:
			if ok && err != nil {
				s.recordSyncError("comments", err)
			}
		}
	}
}

func (s *Session) applyComments(gen int, paperID string, snap []paper.Comment) {
	sortComments(snap)
	s.mu.Lock()
	if gen != s.gen {
		// superseded subscription, delivery discarded
		s.mu.Unlock()
		return
	}
	s.comments = snap
	cb := s.onComments
	s.mu.Unlock()

	if cb != nil {
		cb(paperID, snap)
	}
}

// sortComments orders ascending by timestamp; a missing timestamp counts as
// time zero and sorts first. Ties keep a stable id order.
func sortComments(cs []paper.Comment) {
	sort.SliceStable(cs, func(i, j int) bool {
		ti, tj := commentTime(&cs[i]), commentTime(&cs[j])
		if ti.Equal(tj) {
			return cs[i].ID < cs[j].ID
		}
		return ti.Before(tj)
	})
}

func commentTime(c *paper.Comment) time.Time {
	if c.Timestamp == nil {
		return time.Time{}
	}
	return *c.Timestamp
}

// SetFilter installs the client-side text filter applied by Papers.
func (s *Session) SetFilter(q string) {
	s.mu.Lock()
	s.filter = strings.ToLower(strings.TrimSpace(q))
	s.mu.Unlock()
}

// Papers returns the current (filtered) paper list. The returned slice is a
// copy; session state is only ever advanced by snapshots.
func (s *Session) Papers() []paper.Paper {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]paper.Paper, 0, len(s.papers))
	for _, p := range s.papers {
		if s.filter != "" &&
			!strings.Contains(strings.ToLower(p.Title), s.filter) &&
			!strings.Contains(strings.ToLower(p.Content), s.filter) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Focus returns a copy of the focused paper, or nil.
func (s *Session) Focus() *paper.Paper {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focus == nil {
		return nil
	}
	cp := *s.focus
	return &cp
}

// Comments returns the ordered comment list for the focused paper.
func (s *Session) Comments() []paper.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]paper.Comment(nil), s.comments...)
}

// SetEditMode toggles the edit flag tied to the focus; it is cleared whenever
// the focus is cleared.
func (s *Session) SetEditMode(on bool) {
	s.mu.Lock()
	if s.focus != nil {
		s.editMode = on
	}
	s.mu.Unlock()
}

func (s *Session) EditMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editMode
}

// LastSyncError returns the most recent non-fatal subscription failure, nil
// when the streams are healthy.
func (s *Session) LastSyncError() *SyncError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
