package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveJSON(cfg *Config, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logErrorf("failed to encode response: %v", err)
	}
}

func serveGameError(cfg *Config, w http.ResponseWriter, err error) {
	gameError := asGameError(err)
	serveJSON(cfg, w, httpStatus(gameError), gameError)
}

func servePing(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("pong"))
		if err != nil {
			logErrorf("failed to write ping response: %v", err)
		}
	}
}

func serveHealthCheck(cfg *Config, store Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "store unavailable: %v\n", err)

			return
		}

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			logErrorf("failed to write health response: %v", err)
		}
	}
}

func serveVersion(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("wukong v" + releaseVersion + "\n"))
		if err != nil {
			logErrorf("failed to write version response: %v", err)

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

type createGameRequest struct {
	Username string `json:"username"`
}

type joinGameRequest struct {
	Username string `json:"username"`
	GameCode string `json:"game_code"`
}

func serveCreateGame(cfg *Config, registry *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		var req createGameRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			serveGameError(cfg, w, errInvalidInput("Malformed request body"))

			return
		}

		entry, err := registry.CreateGame(r.Context(), req.Username)
		if err != nil {
			serveGameError(cfg, w, err)

			return
		}

		serveJSON(cfg, w, http.StatusOK, entry)

		logf(cfg, "SERVE: Created game %s for %s in %s",
			entry.Game.Code,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveJoinGame(cfg *Config, registry *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		var req joinGameRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			serveGameError(cfg, w, errInvalidInput("Malformed request body"))

			return
		}

		entry, err := registry.JoinGameByCode(r.Context(), req.Username, req.GameCode)
		if err != nil {
			serveGameError(cfg, w, err)

			return
		}

		serveJSON(cfg, w, http.StatusOK, entry)

		logf(cfg, "SERVE: Player joined game %s from %s in %s",
			entry.Game.Code,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveJoinQR renders a QR code encoding the join URL for a game code, for
// pointing phones at a lobby screen.
func serveJoinQR(cfg *Config, registry *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameCode := strings.ToUpper(p.ByName("code"))

		codeKey, err := key("game_code").Field(gameCode).Finish()
		if err != nil {
			serveGameError(cfg, w, gameErr(CodeInvalidGameCode, "Invalid game code"))

			return
		}

		_, found, err := registry.store.Get(r.Context(), codeKey)
		if err != nil {
			serveGameError(cfg, w, err)

			return
		}
		if !found {
			serveGameError(cfg, w, gameErr(CodeGameNotFound, "Game not found"))

			return
		}

		joinURL := fmt.Sprintf("%s://%s%s/join/%s", cfg.scheme(), r.Host, cfg.prefix, gameCode)

		png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
		if err != nil {
			serveGameError(cfg, w, errInternal(err))

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			logErrorf("failed to write QR response: %v", err)
		}
	}
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: wukong v%s", releaseVersion)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}

	registry := newRegistry(cfg, store)

	routerCtx, stopRouter := context.WithCancel(ctx)
	defer stopRouter()

	go func() {
		if err := registry.runRouter(routerCtx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("%s | ERROR: router: %v\n", time.Now().Format(logDate), err)
		}
	}()

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		// Socket upgrades hold the connection; the write deadline only
		// applies to plain HTTP responses.
		WriteTimeout: 0,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, "An error has occurred. Please try again.\n")
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/", servePing(cfg))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, store))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg))

	mux.POST(cfg.prefix+"/game/create", serveCreateGame(cfg, registry))

	mux.POST(cfg.prefix+"/game/join", serveJoinGame(cfg, registry))

	mux.GET(cfg.prefix+"/game/:code/qr", serveJoinQR(cfg, registry))

	mux.GET(cfg.prefix+"/ws/:game_id/:player_id", serveGameSocket(cfg, registry))

	mux.GET(cfg.prefix+"/admin/games", serveAdminGames(cfg, registry))

	mux.GET(cfg.prefix+"/admin/game", serveAdminGame(cfg, registry))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	go func() {
		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
