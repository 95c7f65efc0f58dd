package middleware

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/interface/rest/presenter"
)

var tracer = otel.Tracer("middleware")

// IdentifyIdentity puts the wallet address from the identity header into the
// request context. A malformed header is ignored, not rejected.
func IdentifyIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Middleware.IdentifyIdentity")
		defer span.End()

		header := c.Request().Header.Get(domain.IdentityHeader)
		if header != "" {
			if domainbay.IsAddress(header) {
				identity := domainbay.NormalizeAddress(header)
				ctx = context.WithValue(ctx, domain.IdentityCtxKey, identity)
				span.SetAttributes(attribute.String("Identity", identity))
			} else {
				span.RecordError(fmt.Errorf("invalid identity header: %s", header))
			}
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireIdentity rejects requests that IdentifyIdentity left anonymous.
func RequireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if Identity(c.Request().Context()) == "" {
			return presenter.Unauthorized(c, "identity required")
		}
		return next(c)
	}
}

func Identity(ctx context.Context) string {
	identity, _ := ctx.Value(domain.IdentityCtxKey).(string)
	return identity
}
