package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/withdrawal-aggregator/internal/data/groupstore"
	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/http/response"
)

type GroupHandler struct {
	typ   domain.AggregatorType
	store groupstore.Store
}

func NewGroupHandler(t domain.AggregatorType, store groupstore.Store) *GroupHandler {
	return &GroupHandler{typ: t, store: store}
}

// GET /v1/groups?status=PENDING
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.store.GetAllGroups(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "store_unavailable", err)
		return
	}
	if want := strings.ToUpper(strings.TrimSpace(c.Query("status"))); want != "" {
		filtered := groups[:0]
		for _, g := range groups {
			if string(g.Status) == want {
				filtered = append(filtered, g)
			}
		}
		groups = filtered
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].CreatedAt.Before(groups[j].CreatedAt) })
	response.RespondOK(c, gin.H{"type": h.typ, "count": len(groups), "groups": groups})
}

// GET /v1/groups/:id
func (h *GroupHandler) GetGroup(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.store.GetGroup(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "store_unavailable", err)
		return
	}
	if g == nil {
		response.RespondError(c, http.StatusNotFound, "group_not_found", nil)
		return
	}
	response.RespondOK(c, gin.H{"group": g})
}

// DELETE /v1/groups/:id releases a group's members back to the pending set.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteGroup(c.Request.Context(), id); err != nil {
		response.RespondError(c, http.StatusBadGateway, "store_unavailable", err)
		return
	}
	response.RespondNoContent(c)
}

func groupID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := uuid.Parse(id); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_group_id", err)
		return "", false
	}
	return id, true
}
