package server

import (
	"wecodesec-tools/pkg/config"
	"wecodesec-tools/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// NewEngine builds the gin engine shared by every route module.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.Error(),
	)
	return r
}
