package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/mockchat/internal/bus"
	"github.com/loqalabs/mockchat/internal/eventstore"
	"github.com/loqalabs/mockchat/internal/protocol"
	"github.com/nats-io/nats.go"
)

const streamTimeout = 60 * time.Second

// Service answers chat requests arriving on the bus with streamed replies.
type Service struct {
	bus       *bus.Client
	generator *Generator
	store     *eventstore.Store
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	ready     atomic.Bool
	logger    *slog.Logger
}

// NewService wires a generator to the bus. store may be nil.
func NewService(parent context.Context, busClient *bus.Client, generator *Generator, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:       busClient,
		generator: generator,
		store:     store,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "chat-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectChatRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe chat requests: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	return nil
}

// Close stops accepting requests, cancels in-flight streams and waits for them to finish.
// Nothing is published after Close returns.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ready.Store(false)
	s.cancel()
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe chat requests", slogError(err))
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready.Load()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ChatRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode chat request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, streamTimeout)
		defer cancel()
		s.serve(ctx, req)
	}()
}

func (s *Service) serve(ctx context.Context, req protocol.ChatRequest) {
	logger := s.logger.With(slog.String("session_id", req.SessionID), slog.String("trace_id", req.TraceID))
	chatReq := RequestFromProtocol(req)
	s.record(ctx, req.SessionID, req.Model, req.TraceID, eventstore.TypeChatRequest, chatReq)

	start := time.Now()
	sequence := 0
	var final Message
	err := s.generator.Stream(ctx, chatReq, func(chunk Chunk) error {
		if chunk.Kind == ChunkContent {
			final = chunk.Message
		}
		if err := s.publishChunk(req, sequence, chunk); err != nil {
			return err
		}
		sequence++
		return nil
	})

	status := protocol.ChatStatus{
		SessionID: req.SessionID,
		TraceID:   req.TraceID,
		Completed: err == nil,
		Chunks:    sequence,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
		logger.Warn("chat stream failed", slogError(err))
		s.record(ctx, req.SessionID, req.Model, req.TraceID, eventstore.TypeChatError, map[string]string{"error": err.Error()})
	} else {
		logger.Info("chat stream complete", slog.Int("chunks", sequence), slog.Duration("latency", time.Since(start)))
		s.record(ctx, req.SessionID, req.Model, req.TraceID, eventstore.TypeChatResponse, final)
	}
	_ = s.publish(protocol.SubjectChatDone, status)
}

func (s *Service) publishChunk(req protocol.ChatRequest, sequence int, chunk Chunk) error {
	packet := protocol.ChatChunk{
		SessionID: req.SessionID,
		TraceID:   req.TraceID,
		Sequence:  sequence,
		Kind:      string(chunk.Kind),
		Timestamp: time.Now().UTC(),
	}
	var subject string
	switch chunk.Kind {
	case ChunkReasoning:
		subject = protocol.SubjectChatReasoning
		packet.Reasoning = chunk.Reasoning
	case ChunkSources:
		subject = protocol.SubjectChatSources
		packet.Sources = sourcesToProtocol(chunk.Sources)
	default:
		subject = protocol.SubjectChatContent
		msg := messageToProtocol(chunk.Message)
		packet.Message = &msg
	}
	return s.publish(subject, packet)
}

func (s *Service) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish chat message", slog.String("subject", subject), slogError(err))
		return err
	}
	return nil
}

func (s *Service) record(ctx context.Context, sessionID, model, traceID, eventType string, v any) {
	if s.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.store.AppendSession(ctx, sessionID, model); err != nil {
		s.logger.Warn("failed to record chat session", slogError(err))
		return
	}
	if err := s.store.AppendJSON(ctx, sessionID, traceID, eventType, v); err != nil {
		s.logger.Warn("failed to record chat event", slog.String("type", eventType), slogError(err))
	}
}

// RequestFromProtocol converts a bus request into a generator request.
func RequestFromProtocol(req protocol.ChatRequest) Request {
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, Message{ID: m.ID, Role: Role(m.Role), Content: m.Content, Timestamp: m.Timestamp})
	}
	return Request{Messages: messages, Model: req.Model, WebSearch: req.WebSearch}
}

func messageToProtocol(m Message) protocol.ChatMessage {
	return protocol.ChatMessage{ID: m.ID, Role: string(m.Role), Content: m.Content, Timestamp: m.Timestamp}
}

func sourcesToProtocol(sources []Source) []protocol.ChatSource {
	out := make([]protocol.ChatSource, 0, len(sources))
	for _, src := range sources {
		out = append(out, protocol.ChatSource{Title: src.Title, URL: src.URL})
	}
	return out
}
