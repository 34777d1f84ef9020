package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"meshmeet/internal/config"
	"meshmeet/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

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

func SetupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeshMeetSessions", store))
	r.Use(ClientTokenMiddleware())

	ctrl := &WSController{Hub: hub, ReadLimit: cfg.ReadLimit}
	limiter := NewRateLimiter(5, time.Minute)

	log.Info().Str("module", "relay").Int("port", cfg.Port).Msg("router setup")

	r.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "relay").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")

	api.POST("/meeting/password", func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false})
			return
		}
		var body struct {
			MeetingID string `json:"meetingId"`
			Password  string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false})
			return
		}
		ok := hub.VerifyPassword(domain.MeetingID(body.MeetingID), body.Password)
		c.JSON(http.StatusOK, gin.H{"success": ok})
	})

	return r
}
