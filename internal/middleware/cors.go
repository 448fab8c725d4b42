package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/temcen/comport/internal/config"
)

func CORS(cfg *config.Config) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowOrigins:  cfg.Security.CORS.AllowedOrigins,
		AllowMethods:  cfg.Security.CORS.AllowedMethods,
		AllowHeaders:  cfg.Security.CORS.AllowedHeaders,
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-Cache"},
	}
	if len(corsCfg.AllowOrigins) == 0 || (len(corsCfg.AllowOrigins) == 1 && corsCfg.AllowOrigins[0] == "*") {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowCredentials = true
	}

	return cors.New(corsCfg)
}
