// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/tripvoice/config"
	internal_token "github.com/rapidaai/tripvoice/internal/token"
	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/rapidaai/tripvoice/pkg/utils"
)

// SessionApi exchanges the server-held provider key for a short-lived
// realtime session. Clients never see the long-lived key; they receive the
// ephemeral client secret and connect to the realtime endpoint themselves.
type SessionApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	minter internal_token.Minter
}

func New(cfg *config.AppConfig, logger commons.Logger, minter internal_token.Minter) *SessionApi {
	if minter == nil {
		minter = internal_token.NewMinter(logger, cfg.SessionsURL, cfg.ProviderKey)
	}
	return &SessionApi{cfg: cfg, logger: logger, minter: minter}
}

// createSessionRequest carries optional per-session overrides; anything left
// empty falls back to the configured defaults.
type createSessionRequest struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

type clientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

type createSessionResponse struct {
	ClientSecret clientSecret `json:"client_secret"`
	Model        string       `json:"model"`
	Voice        string       `json:"voice"`
}

// CreateSession mints an ephemeral realtime session.
func (api *SessionApi) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	opts := internal_token.MintOptions{
		Model:        utils.FirstNonEmpty(req.Model, api.cfg.Session.Model),
		Voice:        utils.FirstNonEmpty(req.Voice, api.cfg.Session.Voice),
		Instructions: req.Instructions,
		ToolChoice:   api.cfg.Session.ToolChoice,
	}

	grant, err := api.minter.Mint(c.Request.Context(), opts)
	if err != nil {
		api.logger.Errorw("failed to mint realtime session", "error", err, "model", opts.Model)
		c.JSON(http.StatusBadGateway, gin.H{"error": "unable to create a realtime session, please try again"})
		return
	}

	var expiresAt int64
	if !grant.ExpiresAt.IsZero() {
		expiresAt = grant.ExpiresAt.Unix()
	}
	c.JSON(http.StatusOK, createSessionResponse{
		ClientSecret: clientSecret{Value: grant.Token, ExpiresAt: expiresAt},
		Model:        grant.Model,
		Voice:        grant.Voice,
	})
}

// Healthz responds once the service can serve traffic.
func (api *SessionApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "name": api.cfg.Name, "version": api.cfg.Version})
}
