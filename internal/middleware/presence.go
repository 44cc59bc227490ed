package middleware

// presence.go wires the activity tracker into the request path. Every
// authenticated request refreshes the caller's presence key, which is the
// signal the resurfacing query uses to decide whether the *other* side of
// a match is around. The touch happens off the request goroutine so a slow
// Redis never delays a response.

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/miel-team/nextmatch-reveal/internal/presence"
)

// TouchPresence returns middleware that marks the authenticated caller as
// active. It must run after JWTAuth so the user id is in the context.
// Requests without a usable user id pass through untouched.
func TouchPresence(tracker *presence.Tracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id, ok := contextUserID(c); ok {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = tracker.Touch(ctx, id)
				}()
			}
			return next(c)
		}
	}
}

// contextUserID converts the user_id context value into a uint64. JWT
// claims decode numbers as float64, so that case carries the weight.
func contextUserID(c echo.Context) (uint64, bool) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, true
	case int:
		return uint64(t), true
	case int64:
		return uint64(t), true
	case float64:
		return uint64(t), true
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
