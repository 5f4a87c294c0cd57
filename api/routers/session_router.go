// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package web_routers

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	sessionApi "github.com/rapidaai/tripvoice/api/session-api"
	"github.com/rapidaai/tripvoice/config"
	"github.com/rapidaai/tripvoice/pkg/commons"
)

// SessionApiRoute mounts the ephemeral-session endpoints. CORS is open to
// the configured origins since the browser client calls this directly.
func SessionApiRoute(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger) {
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	api := sessionApi.New(cfg, logger, nil)
	apiv1 := engine.Group("api")
	{
		apiv1.POST("/session", api.CreateSession)
	}
	engine.GET("/healthz", api.Healthz)
}
