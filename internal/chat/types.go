package chat

import (
	"errors"
	"time"
)

// ErrInvalidRequest is returned when a request cannot be answered, e.g. it carries no messages.
var ErrInvalidRequest = errors.New("invalid chat request")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversational turn.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"` // epoch milliseconds
}

// Request asks the assistant for a reply to the last message.
type Request struct {
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	WebSearch bool      `json:"webSearch"`
}

// Source is a citation attached when web search is enabled.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Response is a complete assistant reply.
type Response struct {
	Message   Message  `json:"message"`
	Reasoning string   `json:"reasoning,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
}

// PartialResponse is the JSON shape of one streamed snapshot.
type PartialResponse struct {
	Message   *Message `json:"message,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
}

type ChunkKind string

const (
	ChunkReasoning ChunkKind = "reasoning"
	ChunkSources   ChunkKind = "sources"
	ChunkContent   ChunkKind = "content"
)

// Chunk is one emission of a stream. Exactly one payload field is set, selected by Kind.
// Content chunks carry the full accumulated text, not a delta.
type Chunk struct {
	Kind      ChunkKind
	Reasoning string
	Sources   []Source
	Message   Message
}

// Partial renders the chunk as a partial response.
func (c Chunk) Partial() PartialResponse {
	switch c.Kind {
	case ChunkReasoning:
		return PartialResponse{Reasoning: c.Reasoning}
	case ChunkSources:
		return PartialResponse{Sources: c.Sources}
	default:
		msg := c.Message
		return PartialResponse{Message: &msg}
	}
}

// Range is a half-open duration interval [Min, Max).
type Range struct {
	Min time.Duration
	Max time.Duration
}
