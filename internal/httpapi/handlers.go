package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) publishAuction(c *gin.Context) {
	var req publishAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request payload"})
		return
	}
	sellerID, ok := callerID(c, req.SellerID)
	if !ok {
		return
	}

	a, err := h.svc.PublishAuction(c.Request.Context(), sellerID, req.Price, req.AuctionEndTime)
	if err != nil {
		h.writeError(c, "publish auction", err)
		return
	}
	c.JSON(http.StatusCreated, toAuctionResponse(a))
}

func (h *Handler) getAuction(c *gin.Context) {
	a, err := h.svc.GetAuction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get auction", err)
		return
	}
	c.JSON(http.StatusOK, toAuctionResponse(a))
}

func (h *Handler) placeBid(c *gin.Context) {
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request payload"})
		return
	}
	bidderID, ok := callerID(c, req.BidderID)
	if !ok {
		return
	}

	productID := c.Param("id")
	bidID, err := h.svc.PlaceBid(c.Request.Context(), productID, bidderID, req.Amount)
	if err != nil {
		h.writeError(c, "place bid", err)
		return
	}
	c.JSON(http.StatusCreated, placeBidResponse{
		BidID:     bidID,
		ProductID: productID,
		BidderID:  bidderID,
		Amount:    req.Amount,
	})
}

func (h *Handler) bidHistory(c *gin.Context) {
	productID := c.Param("id")
	bids, err := h.svc.GetBidHistory(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, "bid history", err)
		return
	}
	c.JSON(http.StatusOK, toBidHistory(productID, bids))
}

func (h *Handler) sweep(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := h.svc.SweepExpiredAuctions(ctx, h.clock.Now())
	if err != nil {
		// Some auctions may have been expired before the failure.
		h.logger.WarnContext(ctx, "manual sweep incomplete",
			slog.Int("expired", n),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgTryAgain, "expired": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func (h *Handler) reconcile(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.svc.Reconcile(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "manual reconciliation incomplete",
			slog.Int("failed", report.Failed),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgTryAgain, "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}
