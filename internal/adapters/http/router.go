package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/perch/parley/internal/adapters/ws"
	"github.com/perch/parley/internal/config"
	"github.com/perch/parley/internal/core"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a cookie so reconnects
// from the same client can be correlated in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the HTTP surface: the demo page redirect, the
// visitor counter, the websocket endpoint, and static files.
func SetupRouter(ctx context.Context, cfg *config.Config, broker *core.Broker, visitors *core.VisitorCounter) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/static/websocket.html")
	})

	r.GET("/count/", func(c *gin.Context) {
		c.String(http.StatusOK, "Visitors: %d", visitors.Inc())
	})

	handler := &ws.Handler{Broker: broker, Cfg: cfg}
	r.GET("/ws/", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws endpoint hit")
		handler.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
