package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/streamsight/errors"
)

// DataResponse is the standard success envelope. Failures carries the
// per-item failures of a partially successful request.
type DataResponse struct {
	Data     any                   `json:"data"`
	Failures []errors.FailureEntry `json:"failures,omitempty"`
}

// RespondWithError inspects err: an *errors.AppError derives its status and
// structured body; anything else is sent as a generic 500.
func RespondWithError(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, errors.Internal(err).ToResponse())
}

// RespondOK sends a 200 response wrapping data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}

// RespondPartial sends a 200 response with results beside the per-item
// failures collected while producing them.
func RespondPartial(c *gin.Context, data any, failures []errors.FailureEntry) {
	c.JSON(http.StatusOK, DataResponse{Data: data, Failures: failures})
}
