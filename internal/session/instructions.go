// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"fmt"
	"time"

	"github.com/flosch/pongo2/v6"
)

// defaultInstructionTemplate is used when no template is configured. It keeps
// the assistant in the configured language and grounds it in the current date
// so relative travel dates ("next Friday") resolve correctly.
const defaultInstructionTemplate = `You are a friendly and professional travel assistant.
Speak {{ language }} with the {{ voice }} voice persona.
Today's date is {{ date }}.
Help the user search flights, book trips, and answer travel questions.
When a booking tool reports an error, apologize briefly and ask the user how they would like to proceed.
Keep spoken responses short and conversational.`

// RenderInstructions expands the configured instruction template with the
// session's voice, language, and current date.
func RenderInstructions(template, voice, language string, now time.Time) (string, error) {
	if template == "" {
		template = defaultInstructionTemplate
	}
	tpl, err := pongo2.FromString(template)
	if err != nil {
		return "", fmt.Errorf("invalid instruction template: %w", err)
	}
	out, err := tpl.Execute(pongo2.Context{
		"voice":    voice,
		"language": language,
		"date":     now.Format("Monday, January 2, 2006"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render instructions: %w", err)
	}
	return out, nil
}
