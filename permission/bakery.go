package permission

import (
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/tombola-games/tombola/config"
	"github.com/tombola-games/tombola/model"
)

const (
	AuthCookieName = "tombola-auth"
)

// BakeryClock gets the current time.  clockwork.Clock implements this.
type BakeryClock interface {
	Now() time.Time
}

type cookieBaker struct {
	v  model.CookieKeyValidity
	sc *securecookie.SecureCookie
}

func (cb *cookieBaker) honorable(now time.Time) bool {
	return now.After(cb.v.MintFrom) && now.Before(cb.v.HonorUntil)
}

func (cb *cookieBaker) mintable(now time.Time) bool {
	return now.After(cb.v.MintFrom) && now.Before(cb.v.MintUntil)
}

// Bakery mints and validates owner session cookies with the rotating keys
// stored in site config.  Keys are read at construction; rotate keys, then
// restart the daemon.
type Bakery struct {
	clock        BakeryClock
	cookieDomain string
	bakers       []cookieBaker
}

// NewBakery creates a Bakery from the keys in the given site config.
func NewBakery(clock BakeryClock, conf *model.SiteConfig) (*Bakery, error) {
	now := clock.Now()
	keys := []cookieBaker{}
	for i, inputKey := range conf.CookieKeys {
		if inputKey.Validity.HonorUntil.Before(now) {
			log.Printf("disregarding key conf.CookieKeys[%d] since it is expired", i)
			continue
		}
		hashKey, err := base64.StdEncoding.DecodeString(inputKey.HashKey64)
		if err != nil {
			log.Printf("disregarding key conf.CookieKeys[%d] due to bad HashKey64: %v", i, err)
			continue
		}
		blockKey, err := base64.StdEncoding.DecodeString(inputKey.BlockKey64)
		if err != nil {
			log.Printf("disregarding key conf.CookieKeys[%d] due to bad BlockKey64: %v", i, err)
			continue
		}
		keys = append(keys,
			cookieBaker{
				sc: securecookie.New(hashKey, blockKey),
				v:  inputKey.Validity,
			})
	}

	log.Printf("bakery: %d valid keys", len(keys))

	return &Bakery{
		clock:        clock,
		cookieDomain: conf.CookieDomain,
		bakers:       keys,
	}, nil
}

func (b *Bakery) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:    AuthCookieName,
		Value:   "",
		Expires: time.Unix(-1, 0),
	})
}

// ReadCookie decodes the session cookie with any honorable key.
func (b *Bakery) ReadCookie(r *http.Request) (*model.AuthCookieData, error) {
	cookie, err := r.Cookie(AuthCookieName)
	if err != nil {
		return nil, fmt.Errorf("can't get cookie: %w", err)
	}

	now := b.clock.Now()
	errs := []error{}

	c := &model.AuthCookieData{}
	for _, baker := range b.bakers {
		if !baker.honorable(now) {
			continue
		}

		err := baker.sc.Decode(AuthCookieName, cookie.Value, c)
		if err == nil {
			return c, nil
		}

		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("no valid keys to validate cookie")
	}
	return nil, fmt.Errorf("can't validate cookie (%d decoders): %w", len(errs), errs[0])
}

func (b *Bakery) bestKeyForMinting(now time.Time) (*cookieBaker, error) {
	var best *cookieBaker
	for i := range b.bakers {
		key := &b.bakers[i]
		if !key.mintable(now) {
			continue
		}

		// Pick the key that is valid for the longest amount of time.
		if best == nil || best.v.HonorUntil.Before(key.v.HonorUntil) {
			best = key
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no valid key for minting")
	}
	return best, nil
}

// WriteCookie mints a session cookie for the given caller.
func (b *Bakery) WriteCookie(w http.ResponseWriter, data *model.AuthCookieData) error {
	now := b.clock.Now()
	baker, err := b.bestKeyForMinting(now)
	if err != nil {
		return err
	}
	encoded, err := baker.sc.Encode(AuthCookieName, data)
	if err != nil {
		return fmt.Errorf("can't encode cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    encoded,
		Domain:   b.cookieDomain,
		Path:     "/",
		Expires:  baker.v.HonorUntil,
		HttpOnly: true,
		Secure:   config.SecureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
