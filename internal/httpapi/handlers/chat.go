package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solace-app/coachsync/internal/common"
	"github.com/solace-app/coachsync/internal/engine"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// OpenChat brings the caller's coaching session to ready. The cached
// preview comes back alongside the authoritative window so the client
// can paint immediately.
func (h *Handler) OpenChat(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	res, err := h.Engine.Open(c.Request.Context(), uid)
	if err != nil {
		log.Printf("[OpenChat] open failed uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"cached":   res.Cached,
		"messages": res.Messages,
		"has_more": res.HasMore,
		"greeted":  res.Greeted,
		"pending":  res.Pending,
	})
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	turn, err := h.Engine.Send(c.Request.Context(), uid, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotOpen):
			common.Fail(c, http.StatusConflict, 40901, "session not open")
		case errors.Is(err, engine.ErrTurnInFlight):
			common.Fail(c, http.StatusConflict, 40902, "turn already in flight")
		default:
			log.Printf("[SendMessage] uid=%d err=%v", uid, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, gin.H{
		"user":      turn.User,
		"assistant": turn.Assistant,
		"messages":  turn.Messages,
	})
}

func (h *Handler) RetryMessage(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	msgID := c.Param("message_id")

	turn, err := h.Engine.Retry(c.Request.Context(), uid, msgID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotOpen):
			common.Fail(c, http.StatusConflict, 40901, "session not open")
		case errors.Is(err, engine.ErrTurnInFlight):
			common.Fail(c, http.StatusConflict, 40902, "turn already in flight")
		case errors.Is(err, engine.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "message not found")
		case errors.Is(err, engine.ErrNotRetryable):
			common.Fail(c, http.StatusBadRequest, 10002, "message is not retryable")
		default:
			log.Printf("[RetryMessage] uid=%d msg=%s err=%v", uid, msgID, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, gin.H{
		"assistant": turn.Assistant,
		"messages":  turn.Messages,
	})
}

type rewriteMarkerReq struct {
	Occurrence int    `json:"occurrence"`
	Key        string `json:"key" binding:"required"`
	Value      string `json:"value" binding:"required"`
}

func (h *Handler) RewriteMarker(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	msgID := c.Param("message_id")

	var req rewriteMarkerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m, err := h.Engine.RewriteMarker(uid, msgID, req.Occurrence, req.Key, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotOpen):
			common.Fail(c, http.StatusConflict, 40901, "session not open")
		case errors.Is(err, engine.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "message not found")
		case errors.Is(err, engine.ErrNoMarker):
			common.Fail(c, http.StatusBadRequest, 10003, "marker not found")
		default:
			log.Printf("[RewriteMarker] uid=%d msg=%s err=%v", uid, msgID, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, gin.H{"message": m})
}

func (h *Handler) LoadMore(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, loaded, err := h.Engine.LoadMore(uid)
	if err != nil {
		common.Fail(c, http.StatusConflict, 40901, "session not open")
		return
	}

	common.OK(c, gin.H{
		"messages": msgs,
		"loaded":   loaded,
	})
}

func (h *Handler) GetWindow(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, hasMore, err := h.Engine.Displayed(uid)
	if err != nil {
		common.Fail(c, http.StatusConflict, 40901, "session not open")
		return
	}

	common.OK(c, gin.H{
		"messages": msgs,
		"has_more": hasMore,
	})
}

func (h *Handler) ResetChat(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	res, err := h.Engine.Reset(c.Request.Context(), uid)
	if err != nil {
		log.Printf("[ResetChat] uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"messages": res.Messages})
}

func (h *Handler) CloseChat(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	h.Engine.Close(c.Request.Context(), uid)
	common.OK(c, nil)
}

type openBreakoutReq struct {
	ParentDocID string `json:"parent_doc_id" binding:"required"`
}

func (h *Handler) OpenBreakout(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req openBreakoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.Engine.OpenBreakout(c.Request.Context(), uid, req.ParentDocID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "parent session not found")
			return
		}
		log.Printf("[OpenBreakout] uid=%d parent=%s err=%v", uid, req.ParentDocID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"messages": res.Messages})
}
