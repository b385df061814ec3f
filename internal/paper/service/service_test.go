package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paperhub/paperhub/internal/paper"
	"github.com/paperhub/paperhub/internal/paper/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	m := store.NewMemoryStore()
	return New(m), m
}

func mustAddPaper(t *testing.T, svc *Service, author string) *paper.Paper {
	t.Helper()
	p, err := svc.AddPaper(context.Background(), author, "title", "content")
	require.NoError(t, err)
	return p
}

func TestAddPaperValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddPaper(ctx, "", "t", "c")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.AddPaper(ctx, "u1", "   ", "c")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AddPaper(ctx, "u1", "t", "")
	require.ErrorIs(t, err, ErrValidation)

	p, err := svc.AddPaper(ctx, "u1", "t", "c")
	require.NoError(t, err)
	require.Equal(t, "u1", p.AuthorID)
	require.Equal(t, 0, p.Likes)
	require.Empty(t, p.LikedBy)
}

func TestEditPaperAuthorOnly(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")

	err := svc.EditPaper(ctx, p.ID, "intruder", "new", "new")
	require.ErrorIs(t, err, ErrForbidden)

	// rejected edits must leave the document untouched
	got, err := st.GetPaper(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "title", got.Title)

	require.NoError(t, svc.EditPaper(ctx, p.ID, "author", "new", "body"))
	got, err = st.GetPaper(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.Title)
	require.Equal(t, "body", got.Content)

	err = svc.EditPaper(ctx, "missing", "author", "t", "c")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestToggleLikeFlipsMembership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")

	upd, err := svc.ToggleLike(ctx, p.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, upd.Likes)
	require.Equal(t, []string{"u1"}, upd.LikedBy)

	upd, err = svc.ToggleLike(ctx, p.ID, "u2")
	require.NoError(t, err)
	require.Equal(t, 2, upd.Likes)

	// second toggle by the same caller is an unlike
	upd, err = svc.ToggleLike(ctx, p.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, upd.Likes)
	require.Equal(t, []string{"u2"}, upd.LikedBy)

	_, err = svc.ToggleLike(ctx, p.ID, "")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.ToggleLike(ctx, "missing", "u1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestToggleLikeConcurrentDistinctCallers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// a real client retries an exhausted toggle; convergence is what
			// we assert, not single-shot success under contention
			var err error
			for {
				_, err = svc.ToggleLike(ctx, p.ID, string(rune('a'+i)))
				if !errors.Is(err, ErrConflictExhausted) {
					break
				}
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.GetPaper(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, n, got.Likes)
	require.Len(t, got.LikedBy, n)
	require.Equal(t, len(got.LikedBy), got.Likes, "counter must equal membership size")
}

func TestToggleLikeOddEvenRounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")

	for i := 0; i < 5; i++ {
		_, err := svc.ToggleLike(ctx, p.ID, "u1")
		require.NoError(t, err)
	}
	got, err := svc.GetPaper(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Likes, "odd toggle count leaves the like present")

	_, err = svc.ToggleLike(ctx, p.ID, "u1")
	require.NoError(t, err)
	got, err = svc.GetPaper(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Likes, "even toggle count removes it")
	require.Empty(t, got.LikedBy)
}

func TestToggleLikeSurfacesExhaustion(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")

	st.ConflictHook = func(attempt int) bool { return true }
	_, err := svc.ToggleLike(ctx, p.ID, "u1")
	require.ErrorIs(t, err, ErrConflictExhausted)

	st.ConflictHook = nil
	got, err := svc.GetPaper(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Likes, "exhausted toggle must not be half-applied")
}

func TestAddCommentRequiresExistingPaper(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")

	_, err := svc.AddComment(ctx, "missing", "u1", "hello")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AddComment(ctx, p.ID, "u1", "  ")
	require.ErrorIs(t, err, ErrValidation)

	c, err := svc.AddComment(ctx, p.ID, "u1", "hello")
	require.NoError(t, err)
	require.Equal(t, p.ID, c.PaperID)
	require.NotNil(t, c.Timestamp)
}

func TestDeleteCommentOwnOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")
	c, err := svc.AddComment(ctx, p.ID, "u1", "hello")
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteComment(ctx, c.ID, "u2"), ErrForbidden)
	require.NoError(t, svc.DeleteComment(ctx, c.ID, "u1"))
	require.ErrorIs(t, svc.DeleteComment(ctx, c.ID, "u1"), ErrNotFound)
}

func TestDeletePaperCascade(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustAddPaper(t, svc, "author")
	for i := 0; i < 3; i++ {
		_, err := svc.AddComment(ctx, p.ID, "u1", "c")
		require.NoError(t, err)
	}
	other := mustAddPaper(t, svc, "author")
	kept, err := svc.AddComment(ctx, other.ID, "u1", "keep me")
	require.NoError(t, err)

	_, err = svc.DeletePaper(ctx, p.ID, "intruder")
	require.ErrorIs(t, err, ErrForbidden)

	res, err := svc.DeletePaper(ctx, p.ID, "author")
	require.NoError(t, err)
	require.Equal(t, 3, res.SweptComments)
	require.Empty(t, res.SweepFailures)

	_, err = st.GetPaper(ctx, p.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	left, err := st.ListComments(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, left)

	// comments of other papers are untouched
	_, err = st.GetComment(ctx, kept.ID)
	require.NoError(t, err)
}

// failingCommentStore wraps a Store and fails DeleteComment for chosen ids, to
// model a partially failing sweep.
type failingCommentStore struct {
	store.Store
	failIDs map[string]bool
}

func (f *failingCommentStore) DeleteComment(ctx context.Context, id string) error {
	if f.failIDs[id] {
		return errors.New("write unavailable")
	}
	return f.Store.DeleteComment(ctx, id)
}

func TestDeletePaperCascadeReportsSweepFailures(t *testing.T) {
	mem := store.NewMemoryStore()
	wrapped := &failingCommentStore{Store: mem, failIDs: map[string]bool{}}
	svc := New(wrapped)
	ctx := context.Background()

	p := mustAddPaper(t, svc, "author")
	var ids []string
	for i := 0; i < 3; i++ {
		c, err := svc.AddComment(ctx, p.ID, "u1", "c")
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	wrapped.failIDs[ids[1]] = true

	res, err := svc.DeletePaper(ctx, p.ID, "author")
	require.NoError(t, err, "cascade succeeds once the paper itself is gone")
	require.Equal(t, 2, res.SweptComments)
	require.Equal(t, []string{ids[1]}, res.SweepFailures)

	// the paper delete committed even though the sweep was partial
	_, err = mem.GetPaper(ctx, p.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	orphan, err := mem.GetComment(ctx, ids[1])
	require.NoError(t, err)
	require.Equal(t, p.ID, orphan.PaperID, "failed comment stays as an orphan")
}

type recordingRemover struct {
	calls []string
	err   error
}

func (r *recordingRemover) Remove(ctx context.Context, paperID string) error {
	r.calls = append(r.calls, paperID)
	return r.err
}

func TestDeletePaperRemovesAttachment(t *testing.T) {
	mem := store.NewMemoryStore()
	rem := &recordingRemover{}
	svc := NewWithAttachments(mem, rem)
	ctx := context.Background()

	p := mustAddPaper(t, svc, "author")
	_, err := svc.DeletePaper(ctx, p.ID, "author")
	require.NoError(t, err)
	require.Equal(t, []string{p.ID}, rem.calls)
}

func TestDeletePaperAttachmentFailureIsBestEffort(t *testing.T) {
	mem := store.NewMemoryStore()
	rem := &recordingRemover{err: errors.New("bucket gone")}
	svc := NewWithAttachments(mem, rem)
	ctx := context.Background()

	p := mustAddPaper(t, svc, "author")
	res, err := svc.DeletePaper(ctx, p.ID, "author")
	require.NoError(t, err)
	require.Empty(t, res.SweepFailures)
}
