package permission

/*
Package permission knows who you are and what you're allowed to do.

The caller's identity rides on the context.  The web layer puts it there
after decoding a session cookie or an identity header; tests and the admin
CLI put it there directly.  Owner checks require a cookie-minted session
(IsOwner) on top of identity equality with the stored config.
*/

import (
	"context"

	"github.com/tombola-games/tombola/model"
)

type contextKeyType struct{}

var contextKeyTypeValue = contextKeyType{}

// CallerInContext returns a context carrying the given caller.
func CallerInContext(ctx context.Context, c *model.AuthCookieData) context.Context {
	return context.WithValue(ctx, contextKeyTypeValue, c)
}

// Caller returns the caller carried by ctx, or nil.
func Caller(ctx context.Context) *model.AuthCookieData {
	v := ctx.Value(contextKeyTypeValue)
	if c, ok := v.(*model.AuthCookieData); ok {
		return c
	}
	return nil
}

// CallerIdentity returns the caller's identity and whether there is one.
func CallerIdentity(ctx context.Context) (model.Identity, bool) {
	c := Caller(ctx)
	if c == nil || c.Identity == "" {
		return "", false
	}
	return c.Identity, true
}
