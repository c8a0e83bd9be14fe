package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/apperror"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// WriteError maps err to a status code and JSON body and aborts the chain.
// Errors that are not *apperror.Error are logged and hidden behind a
// generic 500.
func WriteError(c *gin.Context, log *zap.Logger, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal("internal server error", err)
	}

	status := apperror.HTTPStatus(appErr.Kind)
	message := appErr.Message
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		message = "internal server error"
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:  message,
		Code:   appErr.Code,
		Fields: appErr.Fields,
	})
}

// BindJSON decodes the request body into dst and validates it.
func BindJSON(c *gin.Context, v *Validator, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperror.Validation("malformed JSON body", nil).WithCode("invalid_body")
	}
	return v.Struct(dst)
}
