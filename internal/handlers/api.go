// Package handlers exposes the REST and websocket surface: account and room
// management around the relay core, and the upgrade endpoints that hand
// connections to it.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/presence"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/relay"
	"github.com/parleyhq/parley/internal/storage"
)

// API bundles the handler dependencies and the two relay protocol handlers.
type API struct {
	Store     *storage.Store
	Tokens    *auth.TokenIssuer
	Registry  *registry.Registry
	Mirror    *presence.Mirror
	RTC       config.RTCConfig
	Signaling *relay.SignalingRelay
	Chat      *relay.ChatRelay
}

func New(store *storage.Store, tokens *auth.TokenIssuer, reg *registry.Registry, mirror *presence.Mirror, rtc config.RTCConfig) *API {
	return &API{
		Store:    store,
		Tokens:   tokens,
		Registry: reg,
		Mirror:   mirror,
		RTC:      rtc,
		Signaling: &relay.SignalingRelay{
			Registry: reg,
			Identity: tokens,
			Presence: mirror,
		},
		Chat: &relay.ChatRelay{
			Registry: reg,
			Identity: tokens,
			Rooms:    store,
			Store:    store,
		},
	}
}

// Mount registers all routes on the router.
func (a *API) Mount(r *gin.Engine) {
	r.GET("/health", a.Health)

	r.POST("/auth/register", a.RegisterUser)
	r.POST("/auth/login", a.Login)

	authed := middleware.BearerAuth(a.Tokens)
	r.GET("/me", authed, a.Me)
	r.POST("/rooms", authed, a.CreateRoom)
	r.GET("/rooms/:slug", a.GetRoom)
	r.POST("/rooms/:slug/join", authed, a.JoinRoom)
	r.GET("/rooms/:slug/peers", a.ListPeers)
	r.GET("/rooms/:slug/messages", authed, a.ListMessages)
	r.GET("/rtc/config", a.RTCConfig)

	ws := r.Group("/ws")
	{
		ws.GET("/signaling/:slug", a.SignalingSocket)
		ws.GET("/chat/:slug", a.ChatSocket)
	}
}

// Health reports liveness, including the presence mirror when enabled.
func (a *API) Health(c *gin.Context) {
	if err := a.Mirror.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "presence mirror unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
