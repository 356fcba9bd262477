package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ambiware-labs/staccato/internal/engine"
	"github.com/ambiware-labs/staccato/internal/staged"
)

func TestChunkMessageSuccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := ChunkMessage(staged.Chunk{
		SequenceID: "seq-1",
		Index:      2,
		Total:      4,
		Engine:     engine.VariantQuality,
		Text:       "Hallo Welt.",
		Audio:      []byte{0x01, 0x02},
		Success:    true,
	}, now)

	if msg.Type != MessageTypeChunk {
		t.Fatalf("type = %q, want %q", msg.Type, MessageTypeChunk)
	}
	if msg.Engine != "quality" {
		t.Fatalf("engine = %q, want quality", msg.Engine)
	}
	if msg.Error != nil {
		t.Fatalf("successful chunk must carry a null error, got %q", *msg.Error)
	}
	if !msg.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v, want %v", msg.Timestamp, now)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"error":null`) {
		t.Fatalf("wire form must encode error as null: %s", raw)
	}
}

func TestChunkMessageFailureCarriesErrorAndNullAudio(t *testing.T) {
	msg := ChunkMessage(staged.Chunk{
		SequenceID: "seq-2",
		Index:      0,
		Total:      1,
		Engine:     engine.VariantFast,
		Text:       "Hallo.",
		Success:    false,
		Error:      "model unavailable",
	}, time.Now())

	if msg.Error == nil || *msg.Error != "model unavailable" {
		t.Fatalf("failed chunk lost its error: %v", msg.Error)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"audio":null`) {
		t.Fatalf("failed chunk must encode audio as null: %s", raw)
	}
	if !strings.Contains(string(raw), `"success":false`) {
		t.Fatalf("failed chunk must encode success=false: %s", raw)
	}
}

func TestSequenceEndMessage(t *testing.T) {
	now := time.Now()
	msg := SequenceEndMessage("seq-3", now)
	if msg.Type != MessageTypeSequenceEnd {
		t.Fatalf("type = %q, want %q", msg.Type, MessageTypeSequenceEnd)
	}
	if msg.SequenceID != "seq-3" {
		t.Fatalf("sequence id = %q", msg.SequenceID)
	}
	if !msg.Timestamp.Equal(now.UTC()) {
		t.Fatalf("timestamp not normalized to UTC")
	}
}
