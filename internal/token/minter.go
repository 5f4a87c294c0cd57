// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_token

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/rapidaai/tripvoice/pkg/utils"
)

// MintOptions configure the ephemeral realtime session being requested.
type MintOptions struct {
	Model        string   `json:"model"`
	Voice        string   `json:"voice"`
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
	ToolChoice   string   `json:"tool_choice,omitempty"`
}

// SessionGrant is the result of minting: a short-lived bearer token scoped to
// a single negotiation, plus the session config the provider settled on.
type SessionGrant struct {
	Token     string
	Model     string
	Voice     string
	ExpiresAt time.Time
}

// Minter exchanges a credential for an ephemeral realtime session.
// Implementations are stateless.
type Minter interface {
	Mint(ctx context.Context, opts MintOptions) (*SessionGrant, error)
}

type mintResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type httpMinter struct {
	logger commons.Logger
	resty  *resty.Client
	apiKey string
}

// NewMinter creates a minter against a sessions endpoint. apiKey may be empty
// when the endpoint is a trusted intermediary (e.g. the session-api service)
// that injects the provider credential itself.
func NewMinter(logger commons.Logger, sessionsURL, apiKey string) Minter {
	rc := resty.New().
		SetBaseURL(sessionsURL).
		SetTimeout(15 * time.Second)
	return &httpMinter{logger: logger, resty: rc, apiKey: apiKey}
}

func (m *httpMinter) Mint(ctx context.Context, opts MintOptions) (*SessionGrant, error) {
	if len(opts.Modalities) == 0 {
		opts.Modalities = []string{"audio", "text"}
	}

	req := m.resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(opts).
		SetResult(&mintResponse{})
	if m.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := req.Post("")
	if err != nil {
		return nil, fmt.Errorf("session mint request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("session mint failed with status %d: %s",
			resp.StatusCode(), utils.Truncate(string(resp.Body()), 512))
	}

	payload, ok := resp.Result().(*mintResponse)
	if !ok || payload.ClientSecret.Value == "" {
		return nil, fmt.Errorf("session mint returned no client secret")
	}

	return &SessionGrant{
		Token:     payload.ClientSecret.Value,
		Model:     payload.Model,
		Voice:     payload.Voice,
		ExpiresAt: time.Unix(payload.ClientSecret.ExpiresAt, 0),
	}, nil
}
