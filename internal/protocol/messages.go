// Package protocol defines the wire-message shapes the transport layer
// delivers to clients, and the adapter from synthesis batches to messages.
package protocol

import (
	"time"

	"github.com/ambiware-labs/staccato/internal/staged"
)

const (
	SubjectSpeakRequest   = "speak.request"
	SubjectTTSChunk       = "tts.chunk"
	SubjectTTSSequenceEnd = "tts.sequence.end"
	SubjectCacheClear     = "speak.cache.clear"
)

const (
	MessageTypeChunk       = "tts_chunk"
	MessageTypeSequenceEnd = "tts_sequence_end"
)

// SpeakRequest asks the runtime to synthesize a reply.
type SpeakRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Target    string `json:"target,omitempty"`
}

// TTSChunkMessage carries one synthesized (or failed) chunk. Audio is
// base64-embedded in JSON and null when the chunk failed.
type TTSChunkMessage struct {
	Type       string    `json:"type"`
	SequenceID string    `json:"sequence_id"`
	Index      int       `json:"index"`
	Total      int       `json:"total"`
	Engine     string    `json:"engine"`
	Text       string    `json:"text"`
	Audio      []byte    `json:"audio"`
	Success    bool      `json:"success"`
	Error      *string   `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// TTSSequenceEndMessage terminates a sequence. Sent exactly once per
// request, after every surviving chunk message.
type TTSSequenceEndMessage struct {
	Type       string    `json:"type"`
	SequenceID string    `json:"sequence_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChunkMessage converts one orchestrator chunk into its wire shape.
func ChunkMessage(c staged.Chunk, now time.Time) TTSChunkMessage {
	msg := TTSChunkMessage{
		Type:       MessageTypeChunk,
		SequenceID: c.SequenceID,
		Index:      c.Index,
		Total:      c.Total,
		Engine:     string(c.Engine),
		Text:       c.Text,
		Audio:      c.Audio,
		Success:    c.Success,
		Timestamp:  now.UTC(),
	}
	if !c.Success && c.Error != "" {
		e := c.Error
		msg.Error = &e
	}
	return msg
}

// SequenceEndMessage builds the terminal marker for a sequence.
func SequenceEndMessage(sequenceID string, now time.Time) TTSSequenceEndMessage {
	return TTSSequenceEndMessage{
		Type:       MessageTypeSequenceEnd,
		SequenceID: sequenceID,
		Timestamp:  now.UTC(),
	}
}
