package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coursedeck/backend/internal/domain"
)

// Error maps a service error onto the envelope, translating domain error
// kinds to HTTP status codes. Unknown errors become 500 with a generic
// message so internals never leak to clients.
func Error(c *gin.Context, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		Internal(c, "internal server error")
		return
	}
	c.JSON(statusFor(derr.Kind), Body{Success: false, Error: derr.Msg})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindAlreadyExists, domain.KindAlreadyRegistered, domain.KindAlreadyVoted:
		return http.StatusConflict
	case domain.KindInvalidState, domain.KindAlreadyEnded, domain.KindClosed,
		domain.KindFull, domain.KindDeadlinePassed, domain.KindContention:
		return http.StatusConflict
	case domain.KindFeatureDisabled:
		return http.StatusForbidden
	case domain.KindInvalidSpec, domain.KindInvalidOptions, domain.KindInvalidSelection:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
