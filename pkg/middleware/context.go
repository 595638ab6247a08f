package middleware

import (
	"github.com/ahg-archives/bramble/pkg/appcontext"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderActorID identifies the staff member making review decisions. It is
// set by the catalog frontend proxy after authentication.
const HeaderActorID = "X-Actor-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			actorID := req.Header.Get(HeaderActorID)

			ctx := req.Context()
			ctx = appcontext.SetRequestID(ctx, requestID)
			ctx = appcontext.SetMethod(ctx, req.Method)
			ctx = appcontext.SetRoute(ctx, req.URL.Path)
			ctx = appcontext.SetRemoteIP(ctx, c.RealIP())
			ctx = appcontext.SetActorID(ctx, actorID)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
