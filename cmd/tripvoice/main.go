// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/rapidaai/tripvoice/config"
	internal_protocol "github.com/rapidaai/tripvoice/internal/protocol"
	internal_session "github.com/rapidaai/tripvoice/internal/session"
	internal_tool "github.com/rapidaai/tripvoice/internal/tool"
	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/rapidaai/tripvoice/pkg/utils"
)

// tripvoice is the terminal voice client: it captures the microphone, talks
// to the realtime endpoint over WebRTC, and prints the live transcript while
// dispatching the demo travel tools.
func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid application config: %v", err)
	}

	loggerOpts := []commons.LoggerOption{commons.WithLogLevel(cfg.LogLevel)}
	if cfg.LogFile != "" {
		loggerOpts = append(loggerOpts, commons.WithLogFile(cfg.LogFile))
	}
	logger, err := commons.NewApplicationLogger(loggerOpts...)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	registry := internal_tool.NewRegistry(logger)
	registerTravelTools(logger, registry)

	orchestrator, err := internal_session.NewOrchestrator(cfg, internal_session.Options{
		Logger:   logger,
		Registry: registry,
		Session:  cfg.Session,
		Callbacks: internal_session.Callbacks{
			OnTranscript: printTranscriptTail,
			OnPhase: func(phase internal_session.Phase) {
				fmt.Printf("-- session %s --\n", phase)
			},
			OnNotice: func(err error) {
				fmt.Printf("!! %v\n", err)
			},
		},
	})
	if err != nil {
		logger.Errorf("failed to build orchestrator: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Start(ctx); err != nil {
		logger.Errorf("failed to start session: %v", err)
		os.Exit(1)
	}

	fmt.Println("Listening. Speak to your travel assistant; Ctrl-C hangs up.")
	<-ctx.Done()
	orchestrator.Stop()
}

// printTranscriptTail prints the most recent turn after every change.
func printTranscriptTail(turns []internal_protocol.ConversationTurn) {
	if len(turns) == 0 {
		return
	}
	last := turns[len(turns)-1]
	marker := " "
	if last.IsFinal {
		marker = "*"
	}
	fmt.Printf("[%s]%s %s\n", last.Role, marker, strings.TrimSpace(last.Text))
}

// ============================================================================
// Demo travel tools
// ============================================================================

type searchFlightsParams struct {
	Origin      string `json:"origin" jsonschema:"description=Departure city or airport code"`
	Destination string `json:"destination" jsonschema:"description=Arrival city or airport code"`
	Date        string `json:"date" jsonschema:"description=Departure date, YYYY-MM-DD"`
}

type bookFlightParams struct {
	FlightID      string `json:"flightId" jsonschema:"description=Flight identifier from a previous search"`
	PassengerName string `json:"passengerName" jsonschema:"description=Full passenger name"`
}

func registerTravelTools(logger commons.Logger, registry *internal_tool.Registry) {
	registry.Register(
		internal_tool.Describe("search_flights", "Search available flights between two cities on a date.", searchFlightsParams{}),
		func(ctx context.Context, params utils.Option) (interface{}, error) {
			var p searchFlightsParams
			if err := internal_tool.DecodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.Origin == "" || p.Destination == "" {
				return map[string]interface{}{
					"status":  "missing_parameter",
					"message": "Both origin and destination are required. Please ask the user for the missing one.",
				}, nil
			}
			logger.Infow("searching flights", "origin", p.Origin, "destination", p.Destination, "date", p.Date)
			return map[string]interface{}{
				"flights": []map[string]interface{}{
					{"flightId": "TV" + uuid.NewString()[:8], "origin": p.Origin, "destination": p.Destination, "departure": "08:40", "price": 240},
					{"flightId": "TV" + uuid.NewString()[:8], "origin": p.Origin, "destination": p.Destination, "departure": "17:15", "price": 185},
				},
			}, nil
		},
	)

	registry.Register(
		internal_tool.Describe("book_flight", "Book a flight found in a previous search for a passenger.", bookFlightParams{}),
		func(ctx context.Context, params utils.Option) (interface{}, error) {
			var p bookFlightParams
			if err := internal_tool.DecodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.FlightID == "" || p.PassengerName == "" {
				return map[string]interface{}{
					"status":  "missing_parameter",
					"message": "A flight id and passenger name are required to book.",
				}, nil
			}
			logger.Infow("booking flight", "flightId", p.FlightID, "passenger", p.PassengerName)
			return map[string]interface{}{
				"status":       "confirmed",
				"confirmation": strings.ToUpper(uuid.NewString()[:6]),
				"flightId":     p.FlightID,
				"passenger":    p.PassengerName,
			}, nil
		},
	)
}
