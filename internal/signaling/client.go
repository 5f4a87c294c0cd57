// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/rapidaai/tripvoice/pkg/utils"
)

// NegotiationError is returned when the realtime endpoint rejects the SDP
// exchange. Body carries the verbatim response payload for diagnostics.
type NegotiationError struct {
	Status int
	Body   string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed with status %d: %s", e.Status, utils.Truncate(e.Body, 512))
}

// ModelParams are the query parameters of the negotiation request.
type ModelParams struct {
	Model string
}

// Client performs the one-time session bootstrap: it exchanges a local SDP
// offer for the remote answer over HTTPS. Stateless; safe for reuse across
// sessions.
type Client interface {
	Negotiate(ctx context.Context, offerSDP, ephemeralToken string, params ModelParams) (string, error)
}

type httpClient struct {
	logger commons.Logger
	resty  *resty.Client
}

// NewClient creates a signaling client against the realtime negotiation
// endpoint (e.g. https://api.openai.com/v1/realtime).
func NewClient(logger commons.Logger, negotiationURL string) Client {
	rc := resty.New().
		SetBaseURL(negotiationURL).
		SetTimeout(15 * time.Second)
	return &httpClient{logger: logger, resty: rc}
}

// Negotiate posts the local offer with bearer auth and returns the remote
// answer SDP. Any non-2xx response becomes a *NegotiationError.
func (c *httpClient) Negotiate(ctx context.Context, offerSDP, ephemeralToken string, params ModelParams) (string, error) {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+ephemeralToken).
		SetHeader("Content-Type", "application/sdp").
		SetQueryParam("model", params.Model).
		SetBody(offerSDP).
		Post("")
	if err != nil {
		return "", fmt.Errorf("negotiation request failed: %w", err)
	}

	if !resp.IsSuccess() {
		c.logger.Errorw("negotiation rejected",
			"status", resp.StatusCode(),
			"body", utils.Truncate(string(resp.Body()), 512))
		return "", &NegotiationError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	answer := string(resp.Body())
	if utils.IsEmpty(answer) {
		return "", &NegotiationError{Status: resp.StatusCode(), Body: "empty answer SDP"}
	}
	return answer, nil
}
