// Package c2ctx turns credentials on the request into a caller identity in
// the context, so not every level of the app has to be aware of sessions.
package c2ctx

import (
	"log"
	"net/http"

	"github.com/tombola-games/tombola/dep"
	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/permission"
)

// IdentityHeader carries a plain (non-owner) caller identity.  Ticket
// buyers don't log in; the front end asserts who they are and the ledger
// is the real gate, since an impostor can only spend the ledger balance of
// the identity it names.  Owner operations never trust this header.
const IdentityHeader = "X-Tombola-Identity"

// CookieToContext is middleware that resolves the caller from the owner
// session cookie, or failing that from the identity header, and squirrels
// it away in the context.
type CookieToContext struct {
	bakery *permission.Bakery
	next   http.Handler
}

func (c *CookieToContext) callerFromRequest(r *http.Request) *model.AuthCookieData {
	data, err := c.bakery.ReadCookie(r)
	if err == nil {
		return data
	}
	if _, hasCookie := r.Header["Cookie"]; hasCookie {
		log.Printf("can't read auth cookie: %v", err)
	}

	if id := r.Header.Get(IdentityHeader); id != "" {
		return &model.AuthCookieData{Identity: model.Identity(id)}
	}
	return nil
}

// ServeHTTP implements the http.Handler interface and forwards to the next handler.
func (c *CookieToContext) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if caller := c.callerFromRequest(r); caller != nil {
		ctx := permission.CallerInContext(r.Context(), caller)
		r = r.WithContext(ctx)
	}
	c.next.ServeHTTP(w, r)
}

type Config struct {
	Bakery *permission.Bakery
	Next   http.Handler
}

func Handler(cf *Config) http.Handler {
	return &CookieToContext{
		bakery: dep.Required(cf.Bakery),
		next:   dep.Required(cf.Next),
	}
}
