package protocol

import "time"

// ChatMessage is a conversational turn as carried on the bus.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ChatSource is a citation attached to a reply.
type ChatSource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ChatRequest asks the chat service for a streamed reply.
type ChatRequest struct {
	SessionID string        `json:"session_id"`
	TraceID   string        `json:"trace_id,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	Model     string        `json:"model"`
	WebSearch bool          `json:"web_search"`
	Timestamp time.Time     `json:"timestamp"`
}

// ChatChunk is one streamed snapshot. Message content is cumulative.
type ChatChunk struct {
	SessionID string       `json:"session_id"`
	TraceID   string       `json:"trace_id,omitempty"`
	Sequence  int          `json:"sequence"`
	Kind      string       `json:"kind"`
	Reasoning string       `json:"reasoning,omitempty"`
	Sources   []ChatSource `json:"sources,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ChatStatus reports how a streamed request ended.
type ChatStatus struct {
	SessionID string    `json:"session_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Completed bool      `json:"completed"`
	Chunks    int       `json:"chunks"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectChatRequest   = "chat.request"
	SubjectChatReasoning = "chat.stream.reasoning"
	SubjectChatSources   = "chat.stream.sources"
	SubjectChatContent   = "chat.stream.content"
	SubjectChatDone      = "chat.done"
)
