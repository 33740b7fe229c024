package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/docflow/internal/application/workflow"
	"github.com/garyjia/docflow/internal/domain/entity"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine workflow.Engine
	health HealthChecker
	push   PushEndpoint
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.Engine, health HealthChecker, push PushEndpoint, logger Logger) *Handlers {
	return &Handlers{
		engine: engine,
		health: health,
		push:   push,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Timestamp string `json:"timestamp"`
}

// ListDocumentsRequest filters GET /documents/:type
type ListDocumentsRequest struct {
	Status string `form:"status"`
	Day    string `form:"day"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Store:     "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Error("Store health check failed", "error", err)
			resp.Status = "unhealthy"
			resp.Store = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: resp, Error: "store unreachable"})
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// Subscribe handles GET /ws?target=<push target>
func (h *Handlers) Subscribe(c *gin.Context) {
	target := c.Query("target")
	if err := h.push.ServeWS(c.Writer, c.Request, target); err != nil {
		h.logger.Info("Push subscription refused", "target", target, "error", err)
	}
}

// Approve handles POST /api/v1/approve
func (h *Handlers) Approve(c *gin.Context) {
	var req workflow.ApproveRequest
	if !h.bind(c, &req) {
		return
	}
	req.Type = domainwf.ParseDocumentType(string(req.Type))

	doc, err := h.engine.Approve(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "approve", err, "type", req.Type, "id", req.ID, "actor", req.ActorName)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// Reject handles POST /api/v1/reject
func (h *Handlers) Reject(c *gin.Context) {
	var req workflow.RejectRequest
	if !h.bind(c, &req) {
		return
	}
	req.Type = domainwf.ParseDocumentType(string(req.Type))

	doc, err := h.engine.Reject(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "reject", err, "type", req.Type, "id", req.ID, "actor", req.ActorName)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// Edit handles POST /api/v1/edit
func (h *Handlers) Edit(c *gin.Context) {
	var req workflow.EditRequest
	if !h.bind(c, &req) {
		return
	}
	req.Type = domainwf.ParseDocumentType(string(req.Type))

	doc, err := h.engine.Edit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "edit", err, "type", req.Type, "id", req.ID, "actor", req.ActorName)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// SubmitBatch handles POST /api/v1/submit-batch
func (h *Handlers) SubmitBatch(c *gin.Context) {
	var req workflow.BatchRequest
	if !h.bind(c, &req) {
		return
	}
	req.Type = domainwf.ParseDocumentType(string(req.Type))
	if level, ok := domainwf.ParseBatchLevel(string(req.Level)); ok {
		req.Level = level
	}

	result, err := h.engine.SubmitBatch(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "submit batch", err, "type", req.Type, "date", req.Date, "level", req.Level)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// CreateDocument handles POST /api/v1/documents
func (h *Handlers) CreateDocument(c *gin.Context) {
	var req workflow.CreateRequest
	if !h.bind(c, &req) {
		return
	}
	req.Type = domainwf.ParseDocumentType(string(req.Type))

	doc, err := h.engine.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create", err, "type", req.Type, "id", req.ID)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: doc})
}

// ListDocuments handles GET /api/v1/documents/:type
func (h *Handlers) ListDocuments(c *gin.Context) {
	docType := domainwf.ParseDocumentType(c.Param("type"))

	var req ListDocumentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	var (
		docs []*entity.Document
		err  error
	)
	if req.Status != "" {
		docs, err = h.engine.ListByStatus(c.Request.Context(), docType, domainwf.State(req.Status))
	} else {
		docs, err = h.engine.List(c.Request.Context(), docType)
	}
	if err != nil {
		h.fail(c, "list", err, "type", docType)
		return
	}

	out := make([]*entity.Document, 0, len(docs))
	for _, doc := range docs {
		if req.Day != "" && doc.Day != req.Day {
			continue
		}
		out = append(out, doc)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// GetDocument handles GET /api/v1/documents/:type/:id
func (h *Handlers) GetDocument(c *gin.Context) {
	docType := domainwf.ParseDocumentType(c.Param("type"))
	id := c.Param("id")

	doc, err := h.engine.Get(c.Request.Context(), docType, id)
	if err != nil {
		h.fail(c, "get", err, "type", docType, "id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// GetHistory handles GET /api/v1/documents/:type/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	docType := domainwf.ParseDocumentType(c.Param("type"))
	id := c.Param("id")

	history, err := h.engine.History(c.Request.Context(), docType, id)
	if err != nil {
		h.fail(c, "history", err, "type", docType, "id", id)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success:   false,
			Error:     "invalid request body: " + err.Error(),
			ErrorKind: string(domainwf.KindValidation),
		})
		return false
	}
	return true
}

func (h *Handlers) fail(c *gin.Context, op string, err error, keysAndValues ...interface{}) {
	kind := domainwf.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", append([]interface{}{"op", op, "error", err}, keysAndValues...)...)
	} else {
		h.logger.Info("Request refused", append([]interface{}{"op", op, "error", err}, keysAndValues...)...)
	}
	c.JSON(status, Response{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: string(kind),
		Retryable: domainwf.IsRetryable(err),
	})
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind domainwf.Kind) int {
	switch kind {
	case domainwf.KindNotFound:
		return http.StatusNotFound
	case domainwf.KindAuthorization:
		return http.StatusForbidden
	case domainwf.KindValidation:
		return http.StatusUnprocessableEntity
	case domainwf.KindConflict:
		return http.StatusConflict
	case domainwf.KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
