package chat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/mockchat/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options controls the simulated timing and randomness of a Generator.
type Options struct {
	Seed                 int64
	Latency              Range
	ReasoningPause       time.Duration
	SourcesPause         time.Duration
	TokenDelay           Range
	ReasoningProbability float64
}

// DefaultOptions mirrors the timings of the showcase demo.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Chat)
}

// OptionsFromConfig builds generator options from config.
func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		Seed:                 cfg.Seed,
		Latency:              msRange(cfg.LatencyMinMS, cfg.LatencyMaxMS),
		ReasoningPause:       time.Duration(cfg.ReasoningPauseMS) * time.Millisecond,
		SourcesPause:         time.Duration(cfg.SourcesPauseMS) * time.Millisecond,
		TokenDelay:           msRange(cfg.TokenDelayMinMS, cfg.TokenDelayMaxMS),
		ReasoningProbability: cfg.ReasoningProbability,
	}
}

func msRange(min, max int) Range {
	return Range{Min: time.Duration(min) * time.Millisecond, Max: time.Duration(max) * time.Millisecond}
}

// Generator fakes an assistant backend. It is safe for concurrent use.
type Generator struct {
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(opts Options, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	seed := uint64(opts.Seed)
	if opts.Seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	g := &Generator{
		opts:   opts,
		logger: logger.With(slog.String("component", "chat-generator")),
		tracer: otel.Tracer("github.com/loqalabs/mockchat/chat"),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	m, err := newMetrics()
	if err != nil {
		g.logger.Warn("failed to initialize metrics", slogError(err))
	}
	g.metrics = m
	return g
}

// Generate waits a simulated round trip and returns one complete reply to the last message.
func (g *Generator) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}

	ctx, span := g.tracer.Start(ctx, "chat.generate", trace.WithAttributes(
		attribute.String("chat.model", req.Model),
		attribute.Bool("chat.web_search", req.WebSearch),
		attribute.Int("chat.messages", len(req.Messages)),
	))
	defer span.End()

	start := time.Now()
	if err := sleep(ctx, g.between(g.opts.Latency)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	last := req.Messages[len(req.Messages)-1]
	now := g.now().UnixMilli()

	g.mu.Lock()
	opening := openingPhrases[g.rng.IntN(len(openingPhrases))]
	var sources []Source
	if req.WebSearch {
		sources = SourcePool()[:g.rng.IntN(len(sourcePool))+1]
	}
	withReasoning := g.drawReasoning()
	g.mu.Unlock()

	resp := Response{
		Message: Message{
			ID:        strconv.FormatInt(now, 10),
			Role:      RoleAssistant,
			Content:   composeReply(opening, last.Content),
			Timestamp: now,
		},
		Sources: sources,
	}
	if withReasoning {
		resp.Reasoning = reasoningText
	}

	span.SetAttributes(
		attribute.Bool("chat.reasoning", resp.Reasoning != ""),
		attribute.Int("chat.sources", len(resp.Sources)),
	)
	g.metrics.recordResponse(ctx, req.WebSearch, resp.Reasoning != "", time.Since(start))
	return resp, nil
}

// drawReasoning must be called with g.mu held.
func (g *Generator) drawReasoning() bool {
	p := g.opts.ReasoningProbability
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return g.rng.Float64() > 1-p
}

func (g *Generator) between(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return r.Min + time.Duration(g.rng.Int64N(int64(r.Max-r.Min)))
}

// Stream generates one reply and replays it through consumer: reasoning, then sources,
// then the content one word at a time. A consumer error stops the stream and is returned.
func (g *Generator) Stream(ctx context.Context, req Request, consumer func(Chunk) error) error {
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return err
	}
	return g.StreamResponse(ctx, resp, consumer)
}

// StreamResponse replays an already generated response.
func (g *Generator) StreamResponse(ctx context.Context, resp Response, consumer func(Chunk) error) error {
	ctx, span := g.tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.String("chat.message_id", resp.Message.ID),
	))
	defer span.End()

	err := g.replay(ctx, resp, consumer)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Generator) replay(ctx context.Context, resp Response, consumer func(Chunk) error) error {
	if resp.Reasoning != "" {
		if err := consumer(Chunk{Kind: ChunkReasoning, Reasoning: resp.Reasoning}); err != nil {
			return err
		}
		if err := sleep(ctx, g.opts.ReasoningPause); err != nil {
			return err
		}
	}

	if len(resp.Sources) > 0 {
		if err := consumer(Chunk{Kind: ChunkSources, Sources: append([]Source(nil), resp.Sources...)}); err != nil {
			return err
		}
		if err := sleep(ctx, g.opts.SourcesPause); err != nil {
			return err
		}
	}

	words := strings.Split(resp.Message.Content, " ")
	var acc strings.Builder
	for i, word := range words {
		if i > 0 {
			acc.WriteByte(' ')
		}
		acc.WriteString(word)

		msg := resp.Message
		msg.Content = acc.String()
		if err := consumer(Chunk{Kind: ChunkContent, Message: msg}); err != nil {
			return err
		}
		g.metrics.recordToken(ctx)
		if err := sleep(ctx, g.between(g.opts.TokenDelay)); err != nil {
			return err
		}
	}
	return nil
}

// StreamChan runs Stream in a goroutine and delivers chunks over a channel. Both channels
// are closed when the stream ends; at most one error is sent. A caller that stops reading
// early must cancel ctx, otherwise the goroutine blocks on the next send.
func (g *Generator) StreamChan(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		err := g.Stream(ctx, req, func(c Chunk) error {
			select {
			case chunks <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
