package httpapi

import (
	"net/http"

	"wecodesec-tools/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Invoke(RegisterRoutes),
)

type Descriptor struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// RegisterRoutes installs the service descriptor, /metrics and the 404
// envelope.
func RegisterRoutes(r *gin.Engine, cfg *config.Config) {
	version := cfg.AppVersion
	if version == "" {
		version = "1.0.0"
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, Descriptor{
			Success: true,
			Message: "WeCodeSecTools API Server",
			Version: version,
			Endpoints: map[string]string{
				"tickets": "/tickets/events",
				"health":  "/health",
			},
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		Fail(c, http.StatusNotFound, "resource not found")
	})
	r.NoMethod(func(c *gin.Context) {
		Fail(c, http.StatusMethodNotAllowed, "method not allowed")
	})
}
