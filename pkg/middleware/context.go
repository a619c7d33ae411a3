// Package middleware provides the echo middleware stack for the API server.
package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const requestIDKey = contextKey("X-Request-Id")

// SetRequestID binds a request id to the context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request id bound to the context, or "".
func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// RequestID assigns an id to every request, honoring an inbound X-Request-Id
// header, and binds it to the request context.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			ctx := SetRequestID(req.Context(), id)
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
