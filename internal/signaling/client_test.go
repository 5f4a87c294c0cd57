// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_signaling

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() commons.Logger {
	l, _ := commons.NewApplicationLogger()
	return l
}

func TestNegotiate_Success(t *testing.T) {
	const answer = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n"

	var gotAuth, gotContentType, gotModel, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/sdp")
		_, _ = w.Write([]byte(answer))
	}))
	defer server.Close()

	client := NewClient(newTestLogger(), server.URL)
	got, err := client.Negotiate(context.Background(), "v=0 offer", "eph-token", ModelParams{Model: "gpt-4o-realtime-preview-2024-12-17"})

	require.NoError(t, err)
	assert.Equal(t, answer, got)
	assert.Equal(t, "Bearer eph-token", gotAuth)
	assert.Equal(t, "application/sdp", gotContentType)
	assert.Equal(t, "gpt-4o-realtime-preview-2024-12-17", gotModel)
	assert.Equal(t, "v=0 offer", gotBody)
}

func TestNegotiate_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	client := NewClient(newTestLogger(), server.URL)
	_, err := client.Negotiate(context.Background(), "v=0 offer", "bad", ModelParams{Model: "m"})

	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, http.StatusUnauthorized, negErr.Status)
	assert.Equal(t, `{"error":"invalid token"}`, negErr.Body, "response body must be captured verbatim")
}

func TestNegotiate_EmptyAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(newTestLogger(), server.URL)
	_, err := client.Negotiate(context.Background(), "v=0 offer", "t", ModelParams{Model: "m"})

	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
}

func TestNegotiate_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(newTestLogger(), server.URL)
	_, err := client.Negotiate(ctx, "v=0 offer", "t", ModelParams{Model: "m"})
	assert.Error(t, err)
}
