package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/apperror"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.Named("audit_handler"),
	}
}

type listResponse struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// List serves GET /api/audit-logs?action=&severity=&user_id=&limit=&offset=
func (h *Handler) List(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		api.WriteError(c, h.log, err)
		return
	}

	entries, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		api.WriteError(c, h.log, apperror.Internal("failed to list audit logs", err))
		return
	}

	filter = filter.normalized()
	if entries == nil {
		entries = []Entry{}
	}
	c.JSON(http.StatusOK, listResponse{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

func parseFilter(c *gin.Context) (Filter, error) {
	filter := Filter{Action: c.Query("action")}
	fields := map[string]string{}

	if s := c.Query("severity"); s != "" {
		filter.Severity = Severity(s)
		if !filter.Severity.Valid() {
			fields["severity"] = "must be one of: info warning error critical"
		}
	}
	if s := c.Query("user_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			fields["user_id"] = "must be a valid UUID"
		} else {
			filter.UserID = &id
		}
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			fields["limit"] = "must be a non-negative integer"
		}
		filter.Limit = n
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			fields["offset"] = "must be a non-negative integer"
		}
		filter.Offset = n
	}

	if len(fields) > 0 {
		return Filter{}, apperror.Validation("invalid query", fields)
	}
	return filter, nil
}
