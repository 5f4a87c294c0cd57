// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_protocol

import "time"

// Role attributes a conversation turn to a speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one contiguous span of speech/text for a single role.
// Text grows by delta-append until IsFinal flips true; never edited after.
type ConversationTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"isFinal"`
}

// transcript is the append-only ordered turn sequence plus the indexes of the
// currently open (non-final) turn per role. Insertion order is display order.
type transcript struct {
	turns []ConversationTurn

	// open turn index per role, -1 when none. User turns are additionally
	// tracked by item ID because transcription deltas are item-scoped.
	openAssistant int
	openUser      int
	openUserItem  string

	now func() time.Time
}

func newTranscript(now func() time.Time) *transcript {
	if now == nil {
		now = time.Now
	}
	return &transcript{openAssistant: -1, openUser: -1, now: now}
}

// snapshot returns a copy safe to hand to callers.
func (t *transcript) snapshot() []ConversationTurn {
	out := make([]ConversationTurn, len(t.turns))
	copy(out, t.turns)
	return out
}

// openUserTurn ensures an open user turn for itemID, creating one when the
// last open user turn belongs to a different item (or none is open).
func (t *transcript) openUserTurn(itemID string) *ConversationTurn {
	if t.openUser >= 0 && (itemID == "" || t.openUserItem == itemID) {
		return &t.turns[t.openUser]
	}
	t.finalizeUser("")
	t.turns = append(t.turns, ConversationTurn{
		ID:        itemID,
		Role:      RoleUser,
		Timestamp: t.now(),
	})
	t.openUser = len(t.turns) - 1
	t.openUserItem = itemID
	return &t.turns[t.openUser]
}

// appendUser appends a transcription delta to the open user turn for itemID.
func (t *transcript) appendUser(itemID, delta string) {
	turn := t.openUserTurn(itemID)
	turn.Text += delta
}

// finalizeUser closes the open user turn. When the accumulated text is empty
// and the event carried a full transcript, the transcript is used; otherwise
// the accumulated deltas stand.
func (t *transcript) finalizeUser(fullTranscript string) {
	if t.openUser < 0 {
		return
	}
	turn := &t.turns[t.openUser]
	if turn.Text == "" && fullTranscript != "" {
		turn.Text = fullTranscript
	}
	turn.IsFinal = true
	t.openUser = -1
	t.openUserItem = ""
}

// appendAssistant appends a text/audio-transcript delta to the open assistant
// turn, creating one if none is open.
func (t *transcript) appendAssistant(delta string) {
	if t.openAssistant < 0 {
		t.turns = append(t.turns, ConversationTurn{
			Role:      RoleAssistant,
			Timestamp: t.now(),
		})
		t.openAssistant = len(t.turns) - 1
	}
	t.turns[t.openAssistant].Text += delta
}

// finalizeAssistant marks the open assistant turn final.
func (t *transcript) finalizeAssistant() {
	if t.openAssistant < 0 {
		return
	}
	t.turns[t.openAssistant].IsFinal = true
	t.openAssistant = -1
}
