package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/withdrawal-aggregator/internal/http/response"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

type QueueHandler struct {
	name string
	insp queue.Inspector
}

// NewQueueHandler accepts a nil inspector for backends that cannot report
// their backlog; the endpoints then answer 501.
func NewQueueHandler(name string, insp queue.Inspector) *QueueHandler {
	return &QueueHandler{name: name, insp: insp}
}

// GET /v1/queue/stats
func (h *QueueHandler) Stats(c *gin.Context) {
	if h.insp == nil {
		response.RespondError(c, http.StatusNotImplemented, "not_supported", fmt.Errorf("queue backend does not report stats"))
		return
	}
	st, err := h.insp.Stats(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "queue_unavailable", err)
		return
	}
	response.RespondOK(c, gin.H{"queue": h.name, "stats": st})
}

// GET /v1/queue/failed?limit=50
func (h *QueueHandler) Failed(c *gin.Context) {
	if h.insp == nil {
		response.RespondError(c, http.StatusNotImplemented, "not_supported", fmt.Errorf("queue backend does not report failed jobs"))
		return
	}
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > 1000 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", fmt.Errorf("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	jobs, err := h.insp.Failed(c.Request.Context(), limit)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "queue_unavailable", err)
		return
	}
	response.RespondOK(c, gin.H{"queue": h.name, "jobs": jobs})
}
