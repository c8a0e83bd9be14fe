package accessrequest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/apperror"
	"github.com/elskow/portal/internal/auth"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

type Handler struct {
	service   *Service
	validator *api.Validator
	log       *zap.Logger
}

func NewHandler(service *Service, validator *api.Validator, log *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		validator: validator,
		log:       log.Named("access_request_handler"),
	}
}

type reviewRequest struct {
	Action          string `json:"action" validate:"required,oneof=approve reject"`
	RejectionReason string `json:"rejection_reason"`
}

type listResponse struct {
	Requests []AccessRequest `json:"requests"`
	Total    int64           `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

type approveResponse struct {
	Message      string         `json:"message"`
	Request      *AccessRequest `json:"request"`
	TempPassword string         `json:"tempPassword"`
	UserCreated  bool           `json:"userCreated"`
}

type requestResponse struct {
	Message string         `json:"message"`
	Request *AccessRequest `json:"request"`
}

// Create serves the public POST /api/access-requests.
func (h *Handler) Create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		api.WriteError(c, h.log, apperror.Validation("malformed request body", nil).WithCode("invalid_body"))
		return
	}

	req, err := h.service.Create(c.Request.Context(), in, auth.OriginOf(c))
	if err != nil {
		api.WriteError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, requestResponse{
		Message: "Access request submitted",
		Request: req,
	})
}

// List serves GET /api/access-requests?status=&limit=&offset=
func (h *Handler) List(c *gin.Context) {
	filter := ListFilter{Status: Status(c.Query("status"))}
	fields := map[string]string{}
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
		api.WriteError(c, h.log, apperror.Validation("invalid query", fields))
		return
	}

	reqs, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		api.WriteError(c, h.log, err)
		return
	}
	if reqs == nil {
		reqs = []AccessRequest{}
	}
	filter = filter.normalized()
	c.JSON(http.StatusOK, listResponse{
		Requests: reqs,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	req, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		api.WriteError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// Review serves PATCH /api/access-requests/:id with an approve or reject
// action.
func (h *Handler) Review(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var body reviewRequest
	if err := api.BindJSON(c, h.validator, &body); err != nil {
		api.WriteError(c, h.log, err)
		return
	}
	reviewer, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()
	origin := auth.OriginOf(c)

	switch body.Action {
	case ActionApprove:
		result, err := h.service.Approve(ctx, id, reviewer, origin)
		if err != nil {
			api.WriteError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, approveResponse{
			Message:      "Access request approved",
			Request:      result.Request,
			TempPassword: result.TempPassword,
			UserCreated:  true,
		})
	case ActionReject:
		req, err := h.service.Reject(ctx, id, body.RejectionReason, reviewer, origin)
		if err != nil {
			api.WriteError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, requestResponse{
			Message: "Access request rejected",
			Request: req,
		})
	}
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	reviewer, _ := auth.CurrentUser(c)
	result, err := h.service.Delete(c.Request.Context(), id, reviewer, auth.OriginOf(c))
	if err != nil {
		api.WriteError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "Access request deleted",
		"userDeactivated": result.UserDeactivated,
	})
}

func (h *Handler) requestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		api.WriteError(c, h.log, apperror.Validation("invalid request id", map[string]string{
			"id": "must be a valid UUID",
		}))
		return uuid.Nil, false
	}
	return id, true
}
