// Package speak exposes the synthesis pipeline on the message bus.
package speak

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ambiware-labs/staccato/internal/bus"
	"github.com/ambiware-labs/staccato/internal/cache"
	"github.com/ambiware-labs/staccato/internal/eventstore"
	"github.com/ambiware-labs/staccato/internal/protocol"
	"github.com/ambiware-labs/staccato/internal/staged"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Processor turns a speak request into an ordered chunk batch.
type Processor interface {
	Process(ctx context.Context, req staged.Request) []staged.Chunk
}

type Service struct {
	bus      *bus.Client
	proc     Processor
	cache    *cache.Cache
	events   *eventstore.Store
	sub      *nats.Subscription
	clearSub *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, proc Processor, c *cache.Cache, events *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		proc:   proc,
		cache:  c,
		events: events,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "speak-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub

	clearSub, err := s.bus.Conn().Subscribe(protocol.SubjectCacheClear, s.handleCacheClear)
	if err != nil {
		_ = sub.Drain()
		s.sub = nil
		return err
	}
	s.clearSub = clearSub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	if s.clearSub != nil {
		_ = s.clearSub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(req)
	}()
}

func (s *Service) run(req protocol.SpeakRequest) {
	sequenceID := uuid.NewString()
	log := s.logger.With(slog.String("sequence_id", sequenceID))

	s.recordSequence(sequenceID, req.SessionID)
	s.record(sequenceID, req.SessionID, eventstore.EventSequenceStarted, nil)

	batch := s.proc.Process(s.ctx, staged.Request{SequenceID: sequenceID, Text: req.Text})

	for _, chunk := range batch {
		wire := protocol.ChunkMessage(chunk, time.Now())
		data, err := json.Marshal(wire)
		if err != nil {
			log.Warn("failed to marshal chunk", slogError(err))
			continue
		}
		if err := s.bus.Conn().Publish(protocol.SubjectTTSChunk, data); err != nil {
			log.Warn("failed to publish chunk", slogError(err))
			continue
		}
		eventType := eventstore.EventChunkSynthesized
		if !chunk.Success {
			eventType = eventstore.EventChunkFailed
		}
		payload, _ := json.Marshal(map[string]any{
			"index":  chunk.Index,
			"engine": string(chunk.Engine),
			"bytes":  len(chunk.Audio),
		})
		s.record(sequenceID, req.SessionID, eventType, payload)
	}

	end := protocol.SequenceEndMessage(sequenceID, time.Now())
	if data, err := json.Marshal(end); err == nil {
		if err := s.bus.Conn().Publish(protocol.SubjectTTSSequenceEnd, data); err != nil {
			log.Warn("failed to publish sequence end", slogError(err))
		}
	}
	s.record(sequenceID, req.SessionID, eventstore.EventSequenceEnded, nil)

	log.Info("sequence delivered", slog.Int("chunks", len(batch)))
}

func (s *Service) handleCacheClear(msg *nats.Msg) {
	if s.cache == nil {
		return
	}
	s.cache.Clear()
	s.logger.Info("synthesis cache cleared")
}

func (s *Service) recordSequence(sequenceID, sessionID string) {
	if s.events == nil {
		return
	}
	if err := s.events.AppendSequence(s.ctx, sequenceID, sessionID); err != nil {
		s.logger.Warn("failed to record sequence", slogError(err))
	}
}

func (s *Service) record(sequenceID, sessionID, eventType string, payload []byte) {
	if s.events == nil {
		return
	}
	err := s.events.AppendEvent(s.ctx, eventstore.Event{
		SequenceID: sequenceID,
		SessionID:  sessionID,
		Type:       eventType,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Warn("failed to record event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
