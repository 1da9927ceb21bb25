package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

const adminHeader = "Wukong-Admin"

// requireAdmin gates a handler behind the admin password. No configured
// password means the surface is unusable, which is a server error, not an
// auth failure.
func requireAdmin(cfg *Config, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if cfg.adminPassword == "" {
			serveGameError(cfg, w, gameErr(CodeInternalServerError, "Admin password not configured"))

			return
		}

		if r.Header.Get(adminHeader) != cfg.adminPassword {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		next(w, r, p)
	}
}

func serveAdminGames(cfg *Config, registry *Registry) httprouter.Handle {
	return requireAdmin(cfg, func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		games, err := registry.GetAllGames(r.Context())
		if err != nil {
			serveGameError(cfg, w, err)

			return
		}

		gameIDs := make([]string, 0, len(games))
		for _, game := range games {
			gameIDs = append(gameIDs, game.ID)
		}

		serveJSON(cfg, w, http.StatusOK, map[string]any{
			"count":    len(gameIDs),
			"game_ids": gameIDs,
		})
	})
}

func serveAdminGame(cfg *Config, registry *Registry) httprouter.Handle {
	return requireAdmin(cfg, func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameID := r.URL.Query().Get("id")
		if gameID == "" {
			serveGameError(cfg, w, errInvalidInput("Missing game id"))

			return
		}

		game, err := registry.GetGame(r.Context(), gameID)
		if err != nil {
			serveGameError(cfg, w, err)

			return
		}
		if game == nil {
			serveJSON(cfg, w, http.StatusNotFound, asGameError(gameErr(CodeGameNotFound, "Game not found")))

			return
		}

		serveJSON(cfg, w, http.StatusOK, map[string]any{"game": game})
	})
}
