package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, g *Generator, resp Response) []Chunk {
	t.Helper()
	var chunks []Chunk
	err := g.StreamResponse(context.Background(), resp, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return chunks
}

func TestStreamResponseWordByWord(t *testing.T) {
	g := NewGenerator(instantOptions(1), newLogger())
	resp := Response{Message: Message{ID: "42", Role: RoleAssistant, Content: "A B C", Timestamp: 42}}

	chunks := collect(t, g, resp)
	want := []string{"A", "A B", "A B C"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if c.Kind != ChunkContent {
			t.Fatalf("chunk %d: expected content, got %s", i, c.Kind)
		}
		if c.Message.Content != want[i] {
			t.Fatalf("chunk %d: got %q want %q", i, c.Message.Content, want[i])
		}
		if c.Message.ID != "42" || c.Message.Role != RoleAssistant || c.Message.Timestamp != 42 {
			t.Fatalf("chunk %d lost message fields: %+v", i, c.Message)
		}
	}
}

func TestStreamResponseOrdering(t *testing.T) {
	g := NewGenerator(instantOptions(1), newLogger())
	resp := Response{
		Message:   Message{ID: "1", Role: RoleAssistant, Content: "one two"},
		Reasoning: ReasoningText(),
		Sources:   SourcePool()[:2],
	}
	chunks := collect(t, g, resp)
	kinds := make([]ChunkKind, len(chunks))
	for i, c := range chunks {
		kinds[i] = c.Kind
	}
	want := []ChunkKind{ChunkReasoning, ChunkSources, ChunkContent, ChunkContent}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected kinds %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected kinds %v", kinds)
		}
	}
	if chunks[0].Reasoning != ReasoningText() {
		t.Fatalf("unexpected reasoning %q", chunks[0].Reasoning)
	}
	if len(chunks[1].Sources) != 2 {
		t.Fatalf("unexpected sources %v", chunks[1].Sources)
	}
}

func TestStreamResponsePauses(t *testing.T) {
	const (
		reasoningPause = 40 * time.Millisecond
		sourcesPause   = 25 * time.Millisecond
		slack          = 500 * time.Millisecond
	)
	opts := instantOptions(9)
	opts.ReasoningPause = reasoningPause
	opts.SourcesPause = sourcesPause
	opts.TokenDelay = Range{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	g := NewGenerator(opts, newLogger())
	resp := Response{
		Message:   Message{ID: "1", Role: RoleAssistant, Content: "one two three"},
		Reasoning: ReasoningText(),
		Sources:   SourcePool()[:1],
	}

	var stamps []time.Time
	start := time.Now()
	err := g.StreamResponse(context.Background(), resp, func(Chunk) error {
		stamps = append(stamps, time.Now())
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	total := time.Since(start)
	if len(stamps) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(stamps))
	}

	gaps := []struct {
		name     string
		got      time.Duration
		min, max time.Duration
	}{
		{"after reasoning", stamps[1].Sub(stamps[0]), reasoningPause, reasoningPause + slack},
		{"after sources", stamps[2].Sub(stamps[1]), sourcesPause, sourcesPause + slack},
		{"between words", stamps[3].Sub(stamps[2]), opts.TokenDelay.Min, opts.TokenDelay.Max + slack},
		{"between words", stamps[4].Sub(stamps[3]), opts.TokenDelay.Min, opts.TokenDelay.Max + slack},
	}
	for _, gap := range gaps {
		if gap.got < gap.min || gap.got > gap.max {
			t.Fatalf("%s: gap %v outside [%v, %v]", gap.name, gap.got, gap.min, gap.max)
		}
	}
	// The last word is followed by one more token delay before the stream returns.
	if tail := start.Add(total).Sub(stamps[4]); tail < opts.TokenDelay.Min {
		t.Fatalf("expected a token delay after the last word, got %v", tail)
	}
}

func TestStreamProperties(t *testing.T) {
	g := NewGenerator(instantOptions(21), newLogger())
	for i := 0; i < 30; i++ {
		var chunks []Chunk
		err := g.Stream(context.Background(), helloRequest(i%2 == 0), func(c Chunk) error {
			chunks = append(chunks, c)
			return nil
		})
		if err != nil {
			t.Fatalf("stream: %v", err)
		}

		reasoningSeen, sourcesSeen, contentSeen := 0, 0, false
		prevTokens := 0
		var last string
		for _, c := range chunks {
			switch c.Kind {
			case ChunkReasoning:
				if contentSeen || sourcesSeen > 0 {
					t.Fatal("reasoning must precede sources and content")
				}
				reasoningSeen++
			case ChunkSources:
				if contentSeen {
					t.Fatal("sources must precede content")
				}
				sourcesSeen++
			case ChunkContent:
				contentSeen = true
				tokens := len(strings.Split(c.Message.Content, " "))
				if tokens < prevTokens {
					t.Fatalf("token count decreased: %d -> %d", prevTokens, tokens)
				}
				prevTokens = tokens
				last = c.Message.Content
			}
		}
		if reasoningSeen > 1 || sourcesSeen > 1 {
			t.Fatalf("reasoning/sources emitted more than once: %d/%d", reasoningSeen, sourcesSeen)
		}
		if i%2 != 0 && sourcesSeen != 0 {
			t.Fatal("sources emitted without web search")
		}
		if i%2 == 0 && sourcesSeen != 1 {
			t.Fatal("expected sources with web search")
		}
		if !strings.Contains(last, `You asked: "Hello"`) || !strings.HasSuffix(last, simulatedNotice) {
			t.Fatalf("final snapshot incomplete: %q", last)
		}
	}
}

func TestStreamConsumerErrorStops(t *testing.T) {
	g := NewGenerator(instantOptions(1), newLogger())
	resp := Response{Message: Message{Content: "a b c d"}}
	stop := errors.New("stop")
	calls := 0
	err := g.StreamResponse(context.Background(), resp, func(Chunk) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected consumer error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected stream to stop after 2 calls, got %d", calls)
	}
}

func TestStreamCancellationBetweenTokens(t *testing.T) {
	opts := instantOptions(1)
	opts.TokenDelay = Range{Min: time.Second, Max: 2 * time.Second}
	g := NewGenerator(opts, newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := Response{Message: Message{Content: "a b c"}}
	calls := 0
	err := g.StreamResponse(ctx, resp, func(Chunk) error {
		calls++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one emission before cancellation, got %d", calls)
	}
}

func TestStreamChan(t *testing.T) {
	g := NewGenerator(instantOptions(4), newLogger())
	chunks, errs := g.StreamChan(context.Background(), helloRequest(true))

	var last Chunk
	count := 0
	for c := range chunks {
		last = c
		count++
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream chan: %v", err)
	}
	if count == 0 || last.Kind != ChunkContent {
		t.Fatalf("expected content to close the stream, got %d chunks ending in %s", count, last.Kind)
	}
}

func TestStreamChanStopsWhenReaderCancels(t *testing.T) {
	g := NewGenerator(instantOptions(4), newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	chunks, errs := g.StreamChan(ctx, helloRequest(false))

	if _, ok := <-chunks; !ok {
		t.Fatal("expected a first chunk")
	}
	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream goroutine did not stop after cancel")
	}
}

func TestStreamChanInvalidRequest(t *testing.T) {
	g := NewGenerator(instantOptions(4), newLogger())
	chunks, errs := g.StreamChan(context.Background(), Request{})
	for range chunks {
		t.Fatal("expected no chunks")
	}
	if err := <-errs; !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestChunkPartial(t *testing.T) {
	p := Chunk{Kind: ChunkContent, Message: Message{Content: "hi"}}.Partial()
	if p.Message == nil || p.Message.Content != "hi" || p.Reasoning != "" || p.Sources != nil {
		t.Fatalf("unexpected partial %+v", p)
	}
	p = Chunk{Kind: ChunkReasoning, Reasoning: "think"}.Partial()
	if p.Message != nil || p.Reasoning != "think" {
		t.Fatalf("unexpected partial %+v", p)
	}
}
