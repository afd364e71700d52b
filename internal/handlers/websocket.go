package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by the OriginFilter middleware.
		return true
	},
}

// SignalingSocket upgrades the connection and runs the signaling relay for
// its lifetime. The credential travels as a query parameter; the relay closes
// unauthenticated connections itself, after the upgrade.
func (a *API) SignalingSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("signaling upgrade failed: %v", err)
		return
	}
	a.Signaling.Serve(c.Param("slug"), c.Query("token"), conn)
}

// ChatSocket upgrades the connection and runs the chat relay for its
// lifetime.
func (a *API) ChatSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("chat upgrade failed: %v", err)
		return
	}
	// The relay outlives the HTTP request machinery once the connection is
	// hijacked, so persistence calls get a fresh context.
	a.Chat.Serve(context.Background(), c.Param("slug"), c.Query("token"), conn)
}
