package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/ot"
)

type DocumentHandler struct {
	svc collab.Service
	log *zap.Logger
}

func NewDocumentHandler(svc collab.Service, log *zap.Logger) *DocumentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentHandler{svc: svc, log: log}
}

// Register 挂在已经带鉴权中间件的 /collab 分组上
func (h *DocumentHandler) Register(rg *gin.RouterGroup) {
	doc := rg.Group("/documents/:entityId/:field")
	doc.POST("/session", h.StartEditing)
	doc.DELETE("/session", h.StopEditing)
	doc.POST("/ops", h.ApplyOperation)
	doc.GET("", h.GetState)
	doc.GET("/collaborators", h.GetCollaborators)
	doc.GET("/history", h.GetHistory)
}

type submitRequest struct {
	Op            ot.EditOperation `json:"op"`
	ClientVersion *int             `json:"clientVersion"`
}

func (h *DocumentHandler) StartEditing(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "User context missing"})
		return
	}
	entityID, field := c.Param("entityId"), c.Param("field")
	if err := h.svc.StartEditing(c.Request.Context(), userID, entityID, field); err != nil {
		h.writeError(c, err)
		return
	}
	st := h.svc.GetDocumentState(c.Request.Context(), entityID, field)
	if st == nil {
		// 刚加入就被并发的离开清掉了，按空状态返回
		c.JSON(http.StatusOK, gin.H{"entityId": entityID, "field": field})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *DocumentHandler) StopEditing(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "User context missing"})
		return
	}
	if err := h.svc.StopEditing(c.Request.Context(), userID, c.Param("entityId"), c.Param("field")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) ApplyOperation(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "User context missing"})
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	if req.ClientVersion == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "clientVersion is required"})
		return
	}

	applied, err := h.svc.ApplyOperation(c.Request.Context(), c.Param("entityId"), c.Param("field"), req.Op, *req.ClientVersion, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, applied)
}

func (h *DocumentHandler) GetState(c *gin.Context) {
	st := h.svc.GetDocumentState(c.Request.Context(), c.Param("entityId"), c.Param("field"))
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_ACTIVE", "message": "document is not being edited"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *DocumentHandler) GetCollaborators(c *gin.Context) {
	users := h.svc.GetCollaborators(c.Request.Context(), c.Param("entityId"), c.Param("field"))
	c.JSON(http.StatusOK, gin.H{"collaborators": users})
}

func (h *DocumentHandler) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	ops := h.svc.GetOperationHistory(c.Request.Context(), c.Param("entityId"), c.Param("field"), limit)
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

// ErrorStatus 错误码与 HTTP 状态码的对应关系，websocket 也复用 code
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ot.ErrInvalidOperation):
		return http.StatusBadRequest, ot.ErrInvalidOperation.Error()
	case errors.Is(err, collab.ErrInvalidUser):
		return http.StatusBadRequest, collab.ErrInvalidUser.Error()
	case errors.Is(err, collab.ErrVersionAhead):
		return http.StatusConflict, collab.ErrVersionAhead.Error()
	case errors.Is(err, collab.ErrHistoryTruncated):
		return http.StatusConflict, collab.ErrHistoryTruncated.Error()
	case errors.Is(err, collab.ErrQueueTimeout):
		return http.StatusServiceUnavailable, collab.ErrQueueTimeout.Error()
	case errors.Is(err, collab.ErrEngineClosed):
		return http.StatusServiceUnavailable, collab.ErrEngineClosed.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *DocumentHandler) writeError(c *gin.Context, err error) {
	status, code := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("collab request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	body := gin.H{"code": code, "message": err.Error()}
	var verr *collab.VersionError
	if errors.As(err, &verr) {
		body["serverVersion"] = verr.ServerVersion
	}
	c.JSON(status, body)
}
