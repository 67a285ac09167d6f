package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// RouterOptions - настройки HTTP-слоя.
type RouterOptions struct {
	AllowedOrigins []string // пусто - разрешены все
	// Metrics включает /metrics. Коллекторы регистрируются глобально,
	// поэтому включать только один раз на процесс.
	Metrics bool
}

// NewRouter собирает gin.Engine со всеми маршрутами API.
func NewRouter(h *StoryHandler, logger *zap.Logger, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(ZapLogger(logger.Named("HTTP")))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}
	corsConfig.ExposeHeaders = []string{requestIDHeader, "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	if opts.Metrics {
		p := ginprometheus.NewPrometheus("gin")
		// Счетчики по шаблону маршрута, а не по конкретному названию истории.
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return "unmatched"
		}
		p.Use(router)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.RegisterRoutes(router.Group("/api"))
	return router
}
