package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one player's socket attached to a game's hub.
type Client struct {
	conn     *websocket.Conn
	sub      *HubSubscription
	gameID   string
	playerID string
}

// serveGameSocket upgrades /ws/:game_id/:player_id and runs the session
// until either side closes.
func serveGameSocket(cfg *Config, registry *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameID := p.ByName("game_id")
		playerID := p.ByName("player_id")

		hub, ok := registry.hubFor(gameID)
		if !ok {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logErrorf("upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			sub:      hub.Subscribe(),
			gameID:   gameID,
			playerID: playerID,
		}

		logf(cfg, "SOCKET: Player %s connected to game %s", playerID, gameID)

		go client.writePump()
		client.readPump(cfg, registry)
	}
}

// writePump drains the hub subscription onto the socket. It exits when the
// subscription closes (hub teardown) or a write fails.
func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.sub.Receive() {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
	}
}

// readPump validates inbound frames and feeds them to the game's
// serializer. When the socket dies, the player is removed from the game.
func (c *Client) readPump(cfg *Config, registry *Registry) {
	defer func() {
		c.sub.Close()
		_ = c.conn.Close()

		if err := registry.RemovePlayer(context.Background(), c.playerID); err != nil {
			logErrorf("failed to remove player %s: %v", c.playerID, err)
		}
		logf(cfg, "SOCKET: Player %s disconnected from game %s", c.playerID, c.gameID)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logf(cfg, "SOCKET: Dropped malformed frame from %s: %v", c.playerID, err)
			continue
		}

		// A session only ever speaks for its own game and player.
		if msg.GameID != c.gameID || msg.PlayerID != c.playerID {
			logf(cfg, "SOCKET: Dropped mismatched frame from %s", c.playerID)
			continue
		}

		if msg.AuthToken != "" {
			owned, err := registry.IsAuthorized(context.Background(), c.playerID, msg.AuthToken)
			if err != nil || !owned {
				logf(cfg, "SOCKET: Dropped frame with foreign token from %s", c.playerID)
				continue
			}
		}

		registry.enqueue(c.gameID, msg)
	}
}
