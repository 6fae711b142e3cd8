package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/bidengine/internal/auction"
	"github.com/jensholdgaard/bidengine/internal/telemetry"
)

const msgTryAgain = "temporarily unavailable, try again"

// writeError maps engine errors to a status code and body. Anything that is
// not a caller mistake is reported as retryable without internal detail.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	status, body := mapError(err)
	if status >= http.StatusInternalServerError {
		ctx := c.Request.Context()
		telemetry.LogWithTrace(ctx, h.logger).ErrorContext(ctx, op+" failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}

func mapError(err error) (int, errorResponse) {
	var tooLow *auction.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		minimum, current := tooLow.Minimum, tooLow.Baseline
		return http.StatusUnprocessableEntity, errorResponse{
			Error:   auction.ErrBidTooLow.Error(),
			Minimum: &minimum,
			Current: &current,
		}
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: auction.ErrNotFound.Error()}
	case errors.Is(err, auction.ErrAuctionEnded):
		return http.StatusConflict, errorResponse{Error: auction.ErrAuctionEnded.Error()}
	case errors.Is(err, auction.ErrInvalidBid), errors.Is(err, auction.ErrInvalidAuction):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}
	return http.StatusServiceUnavailable, errorResponse{Error: msgTryAgain}
}
