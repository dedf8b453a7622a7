// Package webapp is the JSON HTTP surface over the lottery manager.  The
// handler stack is cors -> request logger -> cookie-to-context -> mux, so
// by the time a handler runs, the caller (if any) is already on the
// context.
package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/tombola-games/tombola/app/handlers"
	"github.com/tombola-games/tombola/bank"
	"github.com/tombola-games/tombola/dep"
	"github.com/tombola-games/tombola/he"
	"github.com/tombola-games/tombola/listener"
	"github.com/tombola-games/tombola/lottery"
	"github.com/tombola-games/tombola/middleware"
	"github.com/tombola-games/tombola/middleware/c2ctx"
	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/password"
	"github.com/tombola-games/tombola/permission"
	"github.com/tombola-games/tombola/state"
	"github.com/tombola-games/tombola/urlpath"
	"github.com/tombola-games/tombola/varz"
)

var (
	ticketsSold    = varz.NewInt("ticketsSold")
	roundsOpened   = varz.NewInt("roundsOpened")
	roundsSettled  = varz.NewInt("roundsSettled")
	roundsAborted  = varz.NewInt("roundsAborted")
	loginFailures  = varz.NewInt("loginFailures")
	loginSuccesses = varz.NewInt("loginSuccesses")

	clientClosedWhileListening = varz.NewInt("clientClosedWhileListening")
	timedOutWhileListening     = varz.NewInt("timedOutWhileListening")
	errorListening             = varz.NewInt("errorListening")
	listenNotifiedClient       = varz.NewInt("listenNotifiedClient")
)

// listenTimeout bounds a long poll; clients re-listen when it elapses.
const listenTimeout = 50 * time.Second

type nower interface {
	Now() time.Time
}

// Config holds the configuration for creating a new App.
type Config struct {
	SiteStorage state.SiteStorage
	Bakery      *permission.Bakery
	Clock       nower
	Manager     *lottery.Manager
	Listener    *listener.RoundStorage
}

// App is the web application.
type App struct {
	siteStorage state.SiteStorage
	bakery      *permission.Bakery
	clock       nower
	lm          *lottery.Manager
	listener    *listener.RoundStorage

	mux     *http.ServeMux
	handler http.Handler
}

func allowedOrigins(sc *model.SiteConfig) []string {
	r := []string{}
	add := func(origin string) {
		r = append(r, origin)
	}
	for _, origin := range sc.AllowedOriginDomains {
		add(fmt.Sprintf("https://%s", origin))
		add(fmt.Sprintf("http://%s", origin))
		for _, port := range sc.BonusHTTPPorts {
			if port == 80 {
				continue
			}
			add(fmt.Sprintf("http://%s:%d", origin, port))
		}
		for _, port := range sc.BonusHTTPSPorts {
			if port == 443 {
				continue
			}
			add(fmt.Sprintf("https://%s:%d", origin, port))
		}
	}
	for _, origin := range r {
		log.Printf("CORS allowing origin %s", origin)
	}
	return r
}

// New creates a new App with the given configuration.
func New(ctx context.Context, config *Config) *App {
	// Prime this so we can check for errors.
	sc, err := config.SiteStorage.FetchSiteConfig(ctx)
	if err != nil {
		log.Fatalf("can't get SiteConfig: %v", err)
	}

	app := &App{
		siteStorage: dep.Required(config.SiteStorage),
		bakery:      dep.Required(config.Bakery),
		clock:       dep.Required(config.Clock),
		lm:          dep.Required(config.Manager),
		listener:    dep.Required(config.Listener),
		mux:         http.NewServeMux(),
	}

	// Stack the handlers together.
	c2c := c2ctx.Handler(&c2ctx.Config{
		Bakery: app.bakery,
		Next:   app.mux,
	})
	logger := middleware.NewRequestLogger(c2c, app.clock)
	corsMW := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins(sc),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", c2ctx.IdentityHeader},
		AllowCredentials: true,
	})
	app.handler = corsMW.Handler(logger)

	app.InstallHandlers()

	return app
}

// Handler returns the configured HTTP handler.
func (app *App) Handler() http.Handler {
	return app.handler
}

func (app *App) handleFunc(pattern string, handler func(context.Context, http.ResponseWriter, *http.Request)) {
	app.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		handler(ctx, w, r)
	})
}

func (app *App) handleFuncTakingID(pattern string, handler func(context.Context, int64, http.ResponseWriter, *http.Request)) {
	app.handleFunc(pattern, func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		id, err := urlpath.IDPathValue(r)
		if err != nil {
			he.SendErrorToHTTPClient(w, "parse url", err)
			return
		}
		handler(ctx, id, w, r)
	})
}

// coded maps the lifecycle failure taxonomy onto HTTP statuses so the
// transport tells the client what went wrong without string matching.
func coded(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lottery.ErrNoCaller):
		return he.New(http.StatusUnauthorized, err)
	case errors.Is(err, lottery.ErrNotAuthorized):
		return he.New(http.StatusForbidden, err)
	case errors.Is(err, bank.ErrInsufficientFunds):
		return he.New(http.StatusPaymentRequired, err)
	case errors.Is(err, lottery.ErrInvalidTicketPrice),
		errors.Is(err, lottery.ErrInvalidMinPlayers),
		errors.Is(err, lottery.ErrInvalidMinBlocks),
		errors.Is(err, lottery.ErrInvalidWinners),
		errors.Is(err, lottery.ErrTooManyWinners):
		return he.New(http.StatusBadRequest, err)
	case errors.Is(err, lottery.ErrLotteryInProgress),
		errors.Is(err, lottery.ErrNoLotteryActive),
		errors.Is(err, lottery.ErrLotteryEnded),
		errors.Is(err, lottery.ErrTooEarly),
		errors.Is(err, lottery.ErrNoParticipants):
		return he.New(http.StatusConflict, err)
	default:
		return err
	}
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error writing response to client: %v", err)
	}
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse request body: %v", err)
	}
	return nil
}

func (app *App) handleCurrentLottery(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	round, err := app.lm.CurrentLottery(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "get current round", err)
		return
	}
	sendJSON(w, round)
}

func (app *App) handleLotteryInfo(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	round, err := app.lm.LotteryInfo(ctx, id)
	if err != nil {
		he.SendErrorToHTTPClient(w, "get round", err)
		return
	}
	sendJSON(w, struct {
		RoundID int64 `json:"roundId"`
		*model.Round
	}{id, round})
}

func (app *App) handleParticipantTickets(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	who := model.Identity(r.URL.Query().Get("identity"))
	if who == "" {
		he.SendErrorToHTTPClient(w, "parse query",
			he.HTTPCodedErrorf(http.StatusBadRequest, "identity query parameter required"))
		return
	}
	n, err := app.lm.ParticipantTickets(ctx, id, who)
	if err != nil {
		he.SendErrorToHTTPClient(w, "count tickets", err)
		return
	}
	sendJSON(w, struct {
		Identity model.Identity `json:"identity"`
		Tickets  int            `json:"tickets"`
	}{who, n})
}

func (app *App) handleOverview(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	overview, err := app.lm.Overview(ctx, offset, limit)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch overview", err)
		return
	}
	sendJSON(w, overview)
}

func (app *App) handleTicketPrice(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	price, err := app.lm.TicketPrice(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "get ticket price", err)
		return
	}
	sendJSON(w, struct {
		TicketPrice uint64 `json:"ticketPrice"`
	}{price})
}

func (app *App) handleWinnerCount(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	n, err := app.lm.WinnerCount(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "get winner count", err)
		return
	}
	sendJSON(w, struct {
		WinnerCount int `json:"winnerCount"`
	}{n})
}

func (app *App) handleRandomSeed(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	seed, err := app.lm.LastRandomSeed(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "get random seed", err)
		return
	}
	sendJSON(w, struct {
		RandomSeed uint64 `json:"randomSeed"`
	}{seed})
}

func (app *App) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	id, err := app.lm.Initialize(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "initialize round", coded(err))
		return
	}
	roundsOpened.Add(1)
	sendJSON(w, struct {
		RoundID int64 `json:"roundId"`
	}{id})
}

func (app *App) handleBuyTicket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := app.lm.BuyTicket(ctx); err != nil {
		he.SendErrorToHTTPClient(w, "buy ticket", coded(err))
		return
	}
	ticketsSold.Add(1)
	sendJSON(w, struct {
		Status string `json:"status"`
	}{"ok"})
}

func (app *App) handleDraw(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	winners, err := app.lm.DrawWinners(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "draw winners", coded(err))
		return
	}
	roundsSettled.Add(1)
	sendJSON(w, struct {
		Winners []model.Winner `json:"winners"`
	}{winners})
}

func (app *App) handleCancel(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := app.lm.Cancel(ctx); err != nil {
		he.SendErrorToHTTPClient(w, "cancel round", coded(err))
		return
	}
	roundsAborted.Add(1)
	sendJSON(w, struct {
		Status string `json:"status"`
	}{"cancelled"})
}

// settingHandler makes a handler for one administrative setter.  Every
// setter takes the same one-field body.
func settingHandler(set func(context.Context, uint64) error) func(context.Context, http.ResponseWriter, *http.Request) {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value uint64 `json:"value"`
		}
		if err := readJSON(r, &body); err != nil {
			he.SendErrorToHTTPClient(w, "parse setting", err)
			return
		}
		if err := set(ctx, body.Value); err != nil {
			he.SendErrorToHTTPClient(w, "apply setting", coded(err))
			return
		}
		sendJSON(w, struct {
			Status string `json:"status"`
		}{"ok"})
	}
}

// handleListen long-polls for a change to the given round.  The client
// reports the version it has; the response is the newer round, or 204 if
// nothing changed before the timeout.
func (app *App) handleListen(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse query",
			he.HTTPCodedErrorf(http.StatusBadRequest, "version query parameter required"))
		return
	}

	// Buffered so the notifier never blocks on a client that went away.
	errCh := make(chan error, 1)
	roundCh := make(chan *model.Round, 1)
	app.listener.ListenRoundVersion(ctx, id, version, errCh, roundCh)

	ctx, cancel := context.WithTimeout(ctx, listenTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			clientClosedWhileListening.Add(1)
			return
		}
		timedOutWhileListening.Add(1)
		w.WriteHeader(http.StatusNoContent)
	case err := <-errCh:
		errorListening.Add(1)
		he.SendErrorToHTTPClient(w, "listen for round change", err)
	case round := <-roundCh:
		listenNotifiedClient.Add(1)
		sendJSON(w, struct {
			Version int64 `json:"version"`
			*model.Round
		}{round.OptimisticLock, round})
	}
}

func (app *App) handleLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := readJSON(r, &body); err != nil {
		he.SendErrorToHTTPClient(w, "parse login", err)
		return
	}

	nope := func() {
		loginFailures.Add(1)
		he.SendErrorToHTTPClient(w, "log in",
			he.HTTPCodedErrorf(http.StatusUnauthorized, "invalid password"))
	}

	sc, err := app.siteStorage.FetchSiteConfig(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch site config", err)
		return
	}
	checker, err := password.NewChecker(sc.OwnerPasswordHash)
	if err != nil {
		nope()
		return
	}
	if err := checker.Validate(body.Password); err != nil {
		nope()
		return
	}

	owner, err := app.lm.Owner(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch owner", err)
		return
	}
	err = app.bakery.WriteCookie(w, &model.AuthCookieData{
		Identity: owner,
		IsOwner:  true,
	})
	if err != nil {
		he.SendErrorToHTTPClient(w, "bake cookie", err)
		return
	}
	loginSuccesses.Add(1)
	sendJSON(w, struct {
		Identity model.Identity `json:"identity"`
	}{owner})
}

func (app *App) handleLogout(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	app.bakery.ClearCookie(w)
	sendJSON(w, struct {
		Status string `json:"status"`
	}{"logged out"})
}

// InstallHandlers registers all HTTP routes.
func (app *App) InstallHandlers() {
	app.handleFunc("GET /api/lottery/current", app.handleCurrentLottery)
	app.handleFuncTakingID("GET /api/lottery/{id}", app.handleLotteryInfo)
	app.handleFuncTakingID("GET /api/lottery/{id}/tickets", app.handleParticipantTickets)
	app.handleFuncTakingID("GET /api/lottery/{id}/listen", app.handleListen)
	app.handleFunc("GET /api/overview", app.handleOverview)
	app.handleFunc("GET /api/ticket-price", app.handleTicketPrice)
	app.handleFunc("GET /api/winner-count", app.handleWinnerCount)
	app.handleFunc("GET /api/random-seed", app.handleRandomSeed)

	app.handleFunc("POST /api/lottery/initialize", app.handleInitialize)
	app.handleFunc("POST /api/lottery/buy", app.handleBuyTicket)
	app.handleFunc("POST /api/lottery/draw", app.handleDraw)
	app.handleFunc("POST /api/lottery/cancel", app.handleCancel)

	app.handleFunc("POST /api/config/ticket-price", settingHandler(app.lm.SetTicketPrice))
	app.handleFunc("POST /api/config/min-players", settingHandler(func(ctx context.Context, v uint64) error {
		return app.lm.SetMinPlayers(ctx, int(v))
	}))
	app.handleFunc("POST /api/config/min-blocks", settingHandler(app.lm.SetMinBlocks))
	app.handleFunc("POST /api/config/winner-count", settingHandler(func(ctx context.Context, v uint64) error {
		return app.lm.SetWinnerCount(ctx, int(v))
	}))

	app.handleFunc("POST /api/login", app.handleLogin)
	app.handleFunc("POST /api/logout", app.handleLogout)

	app.handleFunc("GET /robots.txt", func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		handlers.HandleRobotsTXT(w, r)
	})

	app.mux.Handle("GET /debug/vars", expvar.Handler())
}

// ListenAndServe runs the app on the given address until the server dies.
func (app *App) ListenAndServe(addr string) error {
	log.Printf("listening on %s", addr)
	return http.ListenAndServe(addr, app.handler)
}
