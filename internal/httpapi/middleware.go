package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidengine/internal/telemetry"
)

// subjectKey holds the authenticated caller id in the gin context.
const subjectKey = "subject"

var errMissingSubject = errors.New("token has no subject")

// requestLogger starts a server span per request and logs the outcome with
// the span's trace ids.
func requestLogger(logger *slog.Logger, tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		telemetry.LogWithTrace(ctx, logger).LogAttrs(ctx, level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.ErrorContext(c.Request.Context(), "panic in handler",
			slog.String("path", c.Request.URL.Path),
			slog.Any("panic", rec),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	})
}

// bearerAuth validates an HS256 bearer token and stores its subject.
func bearerAuth(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}
		sub, err := subject(parser, raw, keyFunc)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}
		c.Set(subjectKey, sub)
		c.Next()
	}
}

func subject(p *jwt.Parser, raw string, keyFunc jwt.Keyfunc) (string, error) {
	var claims jwt.RegisteredClaims
	if _, err := p.ParseWithClaims(raw, &claims, keyFunc); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}

// callerID resolves the acting user. With a token the subject wins and a
// conflicting id in the body is refused; without one the body id is used.
// It writes the error response itself and reports false on failure.
func callerID(c *gin.Context, fromBody string) (string, bool) {
	sub := c.GetString(subjectKey)
	switch {
	case sub == "":
		return fromBody, true
	case fromBody == "" || fromBody == sub:
		return sub, true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "id does not match token subject"})
	return "", false
}
