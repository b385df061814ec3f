package service

import (
	"context"
	"strings"

	"github.com/paperhub/paperhub/internal/paper"
	"github.com/paperhub/paperhub/internal/paper/store"
	"github.com/paperhub/paperhub/pkg/logger"
	"github.com/paperhub/paperhub/pkg/metrics"
)

// AttachmentRemover is the optional hook used to clean up a paper's stored
// attachment during the delete cascade. Failures are best-effort, like the
// comment sweep.
type AttachmentRemover interface {
	Remove(ctx context.Context, paperID string) error
}

// Service implements the mutating operations over the document store:
// creation, author-only edits, the conflict-resolving like toggle and the
// two-phase delete cascade. All authorization and validation happens here,
// before any store call.
type Service struct {
	store  store.Store
	attach AttachmentRemover
}

func New(s store.Store) *Service { return &Service{store: s} }

// NewWithAttachments wires an attachment remover into the delete cascade.
func NewWithAttachments(s store.Store, a AttachmentRemover) *Service {
	return &Service{store: s, attach: a}
}

// Store exposes the underlying adapter for subscription wiring.
func (s *Service) Store() store.Store { return s.store }

// CascadeResult reports the outcome of a paper delete. Ok is true as soon as
// the paper document itself is gone; SweepFailures lists comment ids the
// best-effort sweep could not remove (orphans until a later sweep).
type CascadeResult struct {
	PaperID       string   `json:"paperId"`
	SweptComments int      `json:"sweptComments"`
	SweepFailures []string `json:"sweepFailures,omitempty"`
}

func (s *Service) AddPaper(ctx context.Context, callerID, title, content string) (*paper.Paper, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(title) == "" {
		return nil, validationf("title must not be empty")
	}
	if strings.TrimSpace(content) == "" {
		return nil, validationf("content must not be empty")
	}
	p := &paper.Paper{Title: title, Content: content, AuthorID: callerID, LikedBy: []string{}}
	if _, err := s.store.InsertPaper(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// EditPaper is author-only and deliberately not transactional: concurrent
// edits by the same author are resolved last-write-wins.
func (s *Service) EditPaper(ctx context.Context, paperID, callerID, title, content string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	if strings.TrimSpace(title) == "" {
		return validationf("title must not be empty")
	}
	if strings.TrimSpace(content) == "" {
		return validationf("content must not be empty")
	}
	p, err := s.store.GetPaper(ctx, paperID)
	if err != nil {
		return err
	}
	if p.AuthorID != callerID {
		return ErrForbidden
	}
	return s.store.UpdatePaperFields(ctx, paperID, title, content)
}

// ToggleLike flips callerID's membership in likedBy and keeps the likes
// counter equal to len(likedBy). The whole read-modify-write runs inside the
// store's atomic transaction, so N concurrent toggles by N distinct callers
// converge to exactly N entries.
func (s *Service) ToggleLike(ctx context.Context, paperID, callerID string) (*paper.Paper, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	return s.store.UpdatePaperTx(ctx, paperID, func(p *paper.Paper) error {
		if p.LikedByContains(callerID) {
			kept := p.LikedBy[:0]
			for _, v := range p.LikedBy {
				if v != callerID {
					kept = append(kept, v)
				}
			}
			p.LikedBy = kept
			p.Likes--
			if p.Likes < 0 {
				// defends against a previously inconsistent document
				p.Likes = 0
			}
		} else {
			p.LikedBy = append(p.LikedBy, callerID)
			p.Likes++
		}
		return nil
	})
}

// DeletePaper removes the paper and then sweeps its comments and attachment.
// The sweep is outside the paper delete's atomicity on purpose: per-comment
// failures are logged, counted and reported in the result, never escalated.
func (s *Service) DeletePaper(ctx context.Context, paperID, callerID string) (*CascadeResult, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	p, err := s.store.GetPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if p.AuthorID != callerID {
		return nil, ErrForbidden
	}
	if err := s.store.DeletePaper(ctx, paperID); err != nil {
		return nil, err
	}

	res := &CascadeResult{PaperID: paperID}
	comments, err := s.store.ListComments(ctx, paperID)
	if err != nil {
		logger.Errorf("cascade: listing comments for deleted paper %s failed: %v", paperID, err)
		metrics.CascadeSweepFailures.Inc()
		res.SweepFailures = append(res.SweepFailures, "query:"+paperID)
		return res, nil
	}
	for _, c := range comments {
		if err := s.store.DeleteComment(ctx, c.ID); err != nil && err != store.ErrNotFound {
			logger.Warnf("cascade: could not remove comment %s of paper %s: %v", c.ID, paperID, err)
			metrics.CascadeSweepFailures.Inc()
			res.SweepFailures = append(res.SweepFailures, c.ID)
			continue
		}
		res.SweptComments++
	}
	if s.attach != nil {
		if err := s.attach.Remove(ctx, paperID); err != nil {
			logger.Warnf("cascade: could not remove attachment of paper %s: %v", paperID, err)
		}
	}
	return res, nil
}

func (s *Service) AddComment(ctx context.Context, paperID, callerID, text string) (*paper.Comment, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(text) == "" {
		return nil, validationf("comment text must not be empty")
	}
	// the paper must exist at submit time; cross-stream lag afterwards is the
	// consumer's problem, not an error
	if _, err := s.store.GetPaper(ctx, paperID); err != nil {
		return nil, err
	}
	c := &paper.Comment{PaperID: paperID, UserID: callerID, Text: text}
	if _, err := s.store.InsertComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) DeleteComment(ctx context.Context, commentID, callerID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	c, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if c.UserID != callerID {
		return ErrForbidden
	}
	return s.store.DeleteComment(ctx, commentID)
}

func (s *Service) GetPaper(ctx context.Context, id string) (*paper.Paper, error) {
	return s.store.GetPaper(ctx, id)
}

func (s *Service) ListPapers(ctx context.Context) ([]paper.Paper, error) {
	return s.store.ListPapers(ctx)
}

func (s *Service) ListComments(ctx context.Context, paperID string) ([]paper.Comment, error) {
	return s.store.ListComments(ctx, paperID)
}
