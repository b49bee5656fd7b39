package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

// RouterConfig carries the knobs the transport needs.
type RouterConfig struct {
	RateLimit config.RateLimitConfig
	TxTimeout time.Duration
}

func NewRouter(svc *service.WalletService, disp Dispatcher, cfg RouterConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst), BodyLimitMiddleware(maxBodyBytes))
	RegisterHandlers(api, svc, disp, cfg.TxTimeout, log)
	return r
}
