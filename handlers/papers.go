package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paperhub/paperhub/internal/paper/service"
	"github.com/paperhub/paperhub/internal/storage"
	"github.com/paperhub/paperhub/internal/sync"
	"github.com/paperhub/paperhub/pkg/middleware"
)

// PaperHandler exposes the paper/comment operations and the session view.
type PaperHandler struct {
	svc     *service.Service
	session *sync.Session
	attach  *storage.AttachmentStore // optional
}

func NewPaperHandler(svc *service.Service, session *sync.Session, attach *storage.AttachmentStore) *PaperHandler {
	return &PaperHandler{svc: svc, session: session, attach: attach}
}

// Register mounts the routes. Mutating routes sit behind authMW; reads are
// open.
func (h *PaperHandler) Register(r *gin.Engine, authMW gin.HandlerFunc) {
	r.GET("/api/papers", h.ListPapers)
	r.GET("/api/papers/:id", h.GetPaper)
	r.GET("/api/papers/:id/comments", h.ListComments)

	r.POST("/api/papers", authMW, h.CreatePaper)
	r.PATCH("/api/papers/:id", authMW, h.EditPaper)
	r.DELETE("/api/papers/:id", authMW, h.DeletePaper)
	r.POST("/api/papers/:id/like", authMW, h.ToggleLike)
	r.POST("/api/papers/:id/comments", authMW, h.AddComment)
	r.DELETE("/api/comments/:id", authMW, h.DeleteComment)

	r.GET("/api/session", h.SessionView)
	r.POST("/api/session/select", authMW, h.Select)
	r.POST("/api/session/filter", h.SetFilter)

	if h.attach != nil {
		r.PUT("/api/papers/:id/attachment", authMW, h.UploadAttachment)
		r.GET("/api/papers/:id/attachment", h.DownloadAttachment)
	}
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrConflictExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": "too much contention, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *PaperHandler) ListPapers(c *gin.Context) {
	ps, err := h.svc.ListPapers(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (h *PaperHandler) GetPaper(c *gin.Context) {
	p, err := h.svc.GetPaper(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PaperHandler) CreatePaper(c *gin.Context) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.AddPaper(c.Request.Context(), middleware.CallerID(c), req.Title, req.Content)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PaperHandler) EditPaper(c *gin.Context) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.EditPaper(c.Request.Context(), c.Param("id"), middleware.CallerID(c), req.Title, req.Content); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

func (h *PaperHandler) DeletePaper(c *gin.Context) {
	res, err := h.svc.DeletePaper(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	// sweep failures ride along as a diagnostic, the delete itself succeeded
	c.JSON(http.StatusOK, res)
}

func (h *PaperHandler) ToggleLike(c *gin.Context) {
	p, err := h.svc.ToggleLike(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PaperHandler) ListComments(c *gin.Context) {
	cs, err := h.svc.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (h *PaperHandler) AddComment(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cm, err := h.svc.AddComment(c.Request.Context(), c.Param("id"), middleware.CallerID(c), req.Text)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (h *PaperHandler) DeleteComment(c *gin.Context) {
	if err := h.svc.DeleteComment(c.Request.Context(), c.Param("id"), middleware.CallerID(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SessionView returns the fold of the snapshot streams: filtered papers, the
// focused paper with its ordered comments, and the last sync error if the
// streams are degraded.
func (h *PaperHandler) SessionView(c *gin.Context) {
	out := gin.H{
		"papers":   h.session.Papers(),
		"editMode": h.session.EditMode(),
	}
	if f := h.session.Focus(); f != nil {
		out["focus"] = f
		out["comments"] = h.session.Comments()
	}
	if se := h.session.LastSyncError(); se != nil {
		out["syncError"] = se.Error()
	}
	c.JSON(http.StatusOK, out)
}

func (h *PaperHandler) Select(c *gin.Context) {
	var req struct {
		PaperID string `json:"paperId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.session.Select(req.PaperID)
	c.JSON(http.StatusOK, gin.H{"selected": req.PaperID})
}

func (h *PaperHandler) SetFilter(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.session.SetFilter(req.Query)
	c.Status(http.StatusNoContent)
}

func (h *PaperHandler) UploadAttachment(c *gin.Context) {
	id := c.Param("id")
	p, err := h.svc.GetPaper(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if p.AuthorID != middleware.CallerID(c) {
		writeServiceError(c, service.ErrForbidden)
		return
	}
	ct := c.ContentType()
	if ct == "" {
		ct = "application/pdf"
	}
	if err := h.attach.Upload(c.Request.Context(), id, c.Request.Body, c.Request.ContentLength, ct); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PaperHandler) DownloadAttachment(c *gin.Context) {
	obj, err := h.attach.Fetch(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no attachment"})
		return
	}
	defer obj.Close()
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	io.Copy(c.Writer, obj)
}
