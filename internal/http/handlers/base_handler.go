// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/modules/delivery"
	"courier/internal/modules/navigation"
)

type errorResponse struct {
	Error string         `json:"error"`
	View  *delivery.View `json:"view,omitempty"`
}

// isValidID accepts uuids and opaque alphanumeric ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// deliveryStatus maps controller and navigation errors onto a status and a message for the driver.
func deliveryStatus(err error) (int, string) {
	var rejected *delivery.RejectedError
	if errors.As(err, &rejected) {
		return http.StatusUnprocessableEntity, rejected.Message
	}
	switch {
	case errors.Is(err, delivery.ErrReasonRequired),
		errors.Is(err, delivery.ErrHoldReleasedEarly),
		errors.Is(err, navigation.ErrUnknownTarget):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, delivery.ErrNoActiveOrder),
		errors.Is(err, delivery.ErrNoPendingPrompt),
		errors.Is(err, delivery.ErrNoPendingConfirmation):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, delivery.ErrNotFocused),
		errors.Is(err, delivery.ErrBusy),
		errors.Is(err, delivery.ErrInvalidStep),
		errors.Is(err, delivery.ErrStaleOrder),
		errors.Is(err, delivery.ErrOrderCancelled),
		errors.Is(err, navigation.ErrDestinationNotReady):
		return http.StatusConflict, err.Error()
	case errors.Is(err, navigation.ErrNoHandler):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, delivery.ErrRemoteFailure):
		return http.StatusServiceUnavailable, delivery.ErrRemoteFailure.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeDeliveryError(c *gin.Context, err error) {
	status, msg := deliveryStatus(err)
	_ = c.Error(err)
	writeError(c, status, msg)
}

// writeView answers with the view; on failure the view rides along with the error.
// A fetch already in progress is not a failure.
func writeView(c *gin.Context, v delivery.View, err error) {
	if err == nil || errors.Is(err, delivery.ErrFetchInProgress) {
		writeJSON(c, http.StatusOK, v)
		return
	}
	status, msg := deliveryStatus(err)
	_ = c.Error(err)
	writeJSON(c, status, errorResponse{Error: msg, View: &v})
}

// bindOptionalJSON decodes the body when one was sent.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(dst)
}
