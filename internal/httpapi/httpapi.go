// Package httpapi exposes the bidding engine over HTTP using gin.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bidengine/internal/auction"
	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/health"
	"github.com/jensholdgaard/bidengine/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/bidengine/internal/httpapi"

//go:generate mockgen -destination=mock_service_test.go -package=httpapi . BidService

// BidService is the engine surface the API needs. *auction.Engine
// implements it.
type BidService interface {
	PublishAuction(ctx context.Context, sellerID string, price decimal.Decimal, endTime *time.Time) (*store.Auction, error)
	GetAuction(ctx context.Context, id string) (*store.Auction, error)
	GetBidHistory(ctx context.Context, productID string) ([]store.Bid, error)
	PlaceBid(ctx context.Context, productID, bidderID string, amount decimal.Decimal) (string, error)
	SweepExpiredAuctions(ctx context.Context, now time.Time) (int, error)
	Reconcile(ctx context.Context) (auction.Report, error)
}

var _ BidService = (*auction.Engine)(nil)

// Options configures the router.
type Options struct {
	// JWTSecret enables HS256 bearer tokens. When set, the token subject is
	// the caller's seller or bidder id and admin routes require a token.
	JWTSecret string
	// Health is mounted at /healthz and /readyz when non-nil.
	Health *health.Handler
	// TracerProvider defaults to a no-op provider.
	TracerProvider trace.TracerProvider
}

// Handler serves the auction API.
type Handler struct {
	svc    BidService
	logger *slog.Logger
	clock  clock.Clock
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(svc BidService, logger *slog.Logger, clk clock.Clock, opts Options) *gin.Engine {
	h := &Handler{svc: svc, logger: logger, clock: clk}

	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	r := gin.New()
	r.Use(recovery(logger), requestLogger(logger, tp.Tracer(instrumentationName)))

	if opts.Health != nil {
		opts.Health.Register(r)
	}

	auth := optionalAuth(opts.JWTSecret)

	auctions := r.Group("/auctions")
	{
		auctions.POST("", auth, h.publishAuction)
		auctions.GET("/:id", h.getAuction)
		auctions.POST("/:id/bids", auth, h.placeBid)
		auctions.GET("/:id/bids", h.bidHistory)
	}

	admin := r.Group("/admin", auth)
	{
		admin.POST("/sweep", h.sweep)
		admin.POST("/reconcile", h.reconcile)
	}

	return r
}

func optionalAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return bearerAuth([]byte(secret))
}
