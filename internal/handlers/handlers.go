package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facefinder/internal/auth"
	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/screening"
	"github.com/example/facefinder/internal/usecase"
	"github.com/example/facefinder/internal/workspace"
)

const (
	// MaxUploadSize is the largest single image accepted, matching the
	// inline image limit of the comparison service.
	MaxUploadSize = 5 << 20
	// MaxCandidateRequestSize bounds one candidate upload request.
	MaxCandidateRequestSize = 64 << 20
)

// HistoryService serves recorded passes.
type HistoryService interface {
	GetPass(ctx context.Context, owner, passID string) (*usecase.PassRecord, error)
	GetSummary(ctx context.Context, owner string) (*usecase.HistorySummary, error)
}

// Handler serves the workspace API.
type Handler struct {
	workspaces *workspace.Manager
	history    HistoryService
	passCtx    context.Context
	logger     *zap.Logger
}

// NewHandler builds the HTTP handler. history may be nil when pass history is
// not configured. passCtx bounds passes started over HTTP; it should outlive
// individual requests.
func NewHandler(workspaces *workspace.Manager, history HistoryService, passCtx context.Context, logger *zap.Logger) *Handler {
	return &Handler{
		workspaces: workspaces,
		history:    history,
		passCtx:    passCtx,
		logger:     logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. metrics may be nil.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc, metrics http.Handler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	protected := router.Group("/", authMiddleware)
	protected.GET("/workspace", h.getWorkspace)
	protected.DELETE("/workspace", h.clearWorkspace)
	protected.POST("/workspace/candidates", h.uploadCandidates)
	protected.PUT("/workspace/reference", h.uploadReference)
	protected.POST("/workspace/run", h.startPass)
	protected.GET("/workspace/candidates/:index/image", h.candidateImage)
	protected.GET("/passes/summary", h.passSummary)
	protected.GET("/passes/:id", h.getPass)
}

type candidateResponse struct {
	Index       int                     `json:"index"`
	Size        int                     `json:"size"`
	Compared    bool                    `json:"compared"`
	Matched     bool                    `json:"matched"`
	Similarity  float32                 `json:"similarity,omitempty"`
	FaceMatches []faceservice.FaceMatch `json:"face_matches,omitempty"`
}

type workspaceResponse struct {
	Status       screening.Status    `json:"status"`
	ErrorMessage string              `json:"error_message,omitempty"`
	MatchedCount int                 `json:"matched_count"`
	HasReference bool                `json:"has_reference"`
	PassID       string              `json:"pass_id,omitempty"`
	Candidates   []candidateResponse `json:"candidates"`
}

func newWorkspaceResponse(snap screening.Snapshot) workspaceResponse {
	resp := workspaceResponse{
		Status:       snap.Status,
		ErrorMessage: snap.ErrorMessage,
		MatchedCount: snap.MatchedCount,
		HasReference: snap.HasReference,
		PassID:       snap.PassID,
		Candidates:   make([]candidateResponse, 0, len(snap.Candidates)),
	}
	for _, c := range snap.Candidates {
		item := candidateResponse{Index: c.Index, Size: c.Size}
		if c.Result != nil {
			item.Compared = true
			item.Matched = c.Result.Matched
			item.Similarity = c.Result.BestSimilarity()
			item.FaceMatches = c.Result.RawMatches
		}
		resp.Candidates = append(resp.Candidates, item)
	}
	return resp
}

func (h *Handler) getWorkspace(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	ws, found := h.workspaces.Lookup(owner)
	if !found {
		c.JSON(http.StatusOK, newWorkspaceResponse(screening.NewState().Snapshot()))
		return
	}
	c.JSON(http.StatusOK, newWorkspaceResponse(ws.Snapshot()))
}

func (h *Handler) clearWorkspace(c *gin.Context) {
	ws, ok := h.workspaceFor(c)
	if !ok {
		return
	}
	ws.Clear()
	c.JSON(http.StatusOK, newWorkspaceResponse(ws.Snapshot()))
}

func (h *Handler) uploadCandidates(c *gin.Context) {
	ws, ok := h.workspaceFor(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxCandidateRequestSize)
	form, err := c.MultipartForm()
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form with images is required"})
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one image is required"})
		return
	}

	payloads := make([][]byte, 0, len(files))
	for _, fh := range files {
		data, status, err := readFormFile(fh)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		payloads = append(payloads, data)
	}

	indices := ws.UploadCandidates(payloads...)
	c.JSON(http.StatusCreated, gin.H{"indices": indices})
}

func (h *Handler) uploadReference(c *gin.Context) {
	ws, ok := h.workspaceFor(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+1<<20)
	fh, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	data, status, err := readFormFile(fh)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ws.UploadReference(data)
	c.JSON(http.StatusOK, gin.H{"has_reference": true, "size": len(data)})
}

func (h *Handler) startPass(c *gin.Context) {
	ws, ok := h.workspaceFor(c)
	if !ok {
		return
	}

	passID, err := ws.Start(h.passCtx)
	var validationErr *screening.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
		return
	case errors.Is(err, screening.ErrPassInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("failed to start pass", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start pass"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"pass_id": passID, "status": screening.StatusProcessing})
}

func (h *Handler) candidateImage(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	ws, found := h.workspaces.Lookup(owner)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
		return
	}
	candidate, found := ws.Candidate(index)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(candidate.Content).String(), candidate.Content)
}

func (h *Handler) passSummary(c *gin.Context) {
	owner, ok := h.historyOwner(c)
	if !ok {
		return
	}
	summary, err := h.history.GetSummary(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("failed to summarise passes", zap.Error(err), zap.String("owner", owner))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pass history"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getPass(c *gin.Context) {
	owner, ok := h.historyOwner(c)
	if !ok {
		return
	}
	passID := c.Param("id")
	if passID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	record, err := h.history.GetPass(c.Request.Context(), owner, passID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pass not found"})
			return
		}
		h.logger.Error("failed to load pass", zap.Error(err), zap.String("pass_id", passID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pass"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func requireOwner(c *gin.Context) (string, bool) {
	owner, ok := auth.Owner(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return owner, true
}

// workspaceFor returns the caller's workspace, creating it on first write.
func (h *Handler) workspaceFor(c *gin.Context) (*screening.Orchestrator, bool) {
	owner, ok := requireOwner(c)
	if !ok {
		return nil, false
	}
	return h.workspaces.Get(owner), true
}

func (h *Handler) historyOwner(c *gin.Context) (string, bool) {
	owner, ok := requireOwner(c)
	if !ok {
		return "", false
	}
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pass history is not configured"})
		return "", false
	}
	return owner, true
}

func readFormFile(fh *multipart.FileHeader) ([]byte, int, error) {
	if fh.Size > MaxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("image %q exceeds %d bytes", fh.Filename, MaxUploadSize)
	}
	src, err := fh.Open()
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("unable to open image %q", fh.Filename)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to read image %q", fh.Filename)
	}
	return data, http.StatusOK, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}
