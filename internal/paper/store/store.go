package store

import (
	"context"
	"errors"

	"github.com/paperhub/paperhub/internal/paper"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflictExhausted is returned when an atomic read-modify-write kept
	// losing against concurrent writers for the whole retry budget.
	ErrConflictExhausted = errors.New("transaction retry budget exhausted")
)

// maxTxAttempts bounds the compare-and-swap retry loop in UpdatePaperTx.
const maxTxAttempts = 5

// Store is the document store adapter: typed access to the papers and
// comments collections plus the two primitives everything else is built on,
// live snapshot subscriptions and a bounded-retry atomic transaction.
// Implementations: MemoryStore (tests, dev fallback) and MongoStore.
type Store interface {
	InsertPaper(ctx context.Context, p *paper.Paper) (string, error)
	GetPaper(ctx context.Context, id string) (*paper.Paper, error)
	ListPapers(ctx context.Context) ([]paper.Paper, error)
	// UpdatePaperFields is the last-write-wins edit path (title/content).
	// Stamps updatedAt. Not serialized against concurrent edits.
	UpdatePaperFields(ctx context.Context, id, title, content string) error
	// UpdatePaperTx runs fn against a snapshot copy of the paper and commits
	// the result only if no concurrent write landed in between, retrying up
	// to maxTxAttempts before giving up with ErrConflictExhausted. The
	// returned paper is the committed state.
	UpdatePaperTx(ctx context.Context, id string, fn func(p *paper.Paper) error) (*paper.Paper, error)
	DeletePaper(ctx context.Context, id string) error

	InsertComment(ctx context.Context, c *paper.Comment) (string, error)
	GetComment(ctx context.Context, id string) (*paper.Comment, error)
	ListComments(ctx context.Context, paperID string) ([]paper.Comment, error)
	DeleteComment(ctx context.Context, id string) error

	// WatchPapers emits a full replacement snapshot of the papers collection
	// for every committed change, starting with the current state. Snapshots
	// arrive in commit order within the subscription.
	WatchPapers(ctx context.Context) (*PaperSubscription, error)
	// WatchComments is the same over comments filtered by paperId.
	WatchComments(ctx context.Context, paperID string) (*CommentSubscription, error)
}

// PaperSubscription is a live query over the papers collection.
type PaperSubscription struct {
	Snapshots <-chan []paper.Paper
	Errs      <-chan error
	cancel    func()
}

// Close tears down the subscription. Safe to call more than once.
func (s *PaperSubscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// CommentSubscription is a live query over comments for one paper.
type CommentSubscription struct {
	Snapshots <-chan []paper.Comment
	Errs      <-chan error
	cancel    func()
}

func (s *CommentSubscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func clonePaper(p *paper.Paper) *paper.Paper {
	cp := *p
	cp.LikedBy = append([]string(nil), p.LikedBy...)
	return &cp
}
