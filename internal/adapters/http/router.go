package http

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/Roulette/internal/adapters/signal"
	"github.com/dkeye/Roulette/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const deviceKey = "device"

// TokenIssuer is satisfied by *auth.Tokens.
type TokenIssuer interface {
	Issue(deviceID string, now time.Time) (string, time.Time, error)
}

type Deps struct {
	Signal *signal.SignalWSController
	Tokens TokenIssuer
	// TokenLimiter throttles token issuance per device. Nil disables throttling.
	TokenLimiter *signal.RateLimiter
	Metrics      http.Handler
}

// DeviceMiddleware pins a random device id into the cookie session.
func DeviceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		id, _ := s.Get(deviceKey).(string)
		if id == "" {
			id = uuid.NewString()
			s.Set(deviceKey, id)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(deviceKey, id)
		c.Next()
	}
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func issueToken(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		device := c.GetString(deviceKey)
		if deps.TokenLimiter != nil {
			if ok, wait := deps.TokenLimiter.Allow(device); !ok {
				secs := int(math.Ceil(wait.Seconds()))
				log.Warn().Str("module", "adapters.http").Str("device", device).Int("retry_after", secs).Msg("token throttled")
				c.Header("Retry-After", strconv.Itoa(secs))
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, try again in " + strconv.Itoa(secs) + "s"})
				return
			}
		}

		tok, exp, err := deps.Tokens.Issue(device, time.Now())
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("token issue")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token unavailable"})
			return
		}
		c.JSON(http.StatusOK, tokenResponse{Token: tok, ExpiresAt: exp})
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	api := r.Group("/api")
	api.Use(sessions.Sessions("RouletteSessions", store))
	api.Use(DeviceMiddleware())

	api.POST("/token", issueToken(deps))

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("device", c.GetString(deviceKey)).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
