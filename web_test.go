package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg *Config) (*httptest.Server, *Registry) {
	t.Helper()

	store := NewMemoryStore()
	registry := newRegistry(cfg, store)

	mux := httprouter.New()
	mux.GET("/", servePing(cfg))
	mux.GET("/healthz", serveHealthCheck(cfg, store))
	mux.GET("/version", serveVersion(cfg))
	mux.POST("/game/create", serveCreateGame(cfg, registry))
	mux.POST("/game/join", serveJoinGame(cfg, registry))
	mux.GET("/game/:code/qr", serveJoinQR(cfg, registry))
	mux.GET("/admin/games", serveAdminGames(cfg, registry))
	mux.GET("/admin/game", serveAdminGame(cfg, registry))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, registry
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServePing(t *testing.T) {
	srv, _ := newTestServer(t, &Config{redisURL: "memory"})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	assert.Equal(t, "pong", string(body[:n]))
}

func TestServeHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t, &Config{redisURL: "memory"})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndJoinOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, &Config{redisURL: "memory"})

	resp := postJSON(t, srv.URL+"/game/create", `{"username":"A"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created GameEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Len(t, created.Game.Code, gameCodeLength)
	assert.NotEmpty(t, created.AuthToken)
	assert.Equal(t, maxPlayers, created.Game.MaxPlayers)
	require.Len(t, created.Game.Players, 1)
	assert.Equal(t, "A", created.Game.Players[0].Username)

	// Joining is case-insensitive on the code.
	resp = postJSON(t, srv.URL+"/game/join",
		`{"username":"B","game_code":"`+strings.ToLower(created.Game.Code)+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var joined GameEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joined))
	require.Len(t, joined.Game.Players, 2)
	assert.Equal(t, "B", joined.Game.Players[1].Username)
}

func TestHTTPErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t, &Config{redisURL: "memory"})

	resp := postJSON(t, srv.URL+"/game/create", `{"username":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var ge GameError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ge))
	assert.Equal(t, CodeInvalidInput, ge.Code)

	resp = postJSON(t, srv.URL+"/game/create", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/game/join", `{"username":"B","game_code":"ZZZZZZ"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ge))
	assert.Equal(t, CodeGameNotFound, ge.Code)
}

func TestServeJoinQR(t *testing.T) {
	srv, registry := newTestServer(t, &Config{redisURL: "memory"})

	entry, err := registry.CreateGame(context.Background(), "A")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/game/" + entry.Game.Code + "/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/game/ZZZZZZ/qr")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRequiresPassword(t *testing.T) {
	// No password configured: the surface is broken, not forbidden.
	srv, _ := newTestServer(t, &Config{redisURL: "memory"})

	resp, err := http.Get(srv.URL + "/admin/games")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	cfg := &Config{redisURL: "memory", adminPassword: "hunter2"}
	srv, registry := newTestServer(t, cfg)

	entry, err := registry.CreateGame(context.Background(), "A")
	require.NoError(t, err)

	get := func(path, password string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		if password != "" {
			req.Header.Set(adminHeader, password)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, get("/admin/games", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/admin/games", "wrong").StatusCode)

	resp := get("/admin/games", "hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Count   int      `json:"count"`
		GameIDs []string `json:"game_ids"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, []string{entry.Game.ID}, listing.GameIDs)

	resp = get("/admin/game?id="+entry.Game.ID, "hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail struct {
		Game Game `json:"game"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Equal(t, entry.Game.Code, detail.Game.Code)

	assert.Equal(t, http.StatusNotFound, get("/admin/game?id=missing", "hunter2").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get("/admin/game", "hunter2").StatusCode)
}
