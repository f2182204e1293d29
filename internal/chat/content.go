package chat

var openingPhrases = [...]string{
	"I'd be happy to help you with that! Let me break down the key concepts for you.",
	"That's an interesting question. Here's what I can tell you about it...",
	"Based on my understanding, here are the main points to consider:",
	"Great question! Let me provide you with a comprehensive explanation.",
	"I can help clarify that for you. Here's what you need to know:",
}

var sourcePool = [...]Source{
	{Title: "AI Elements Documentation", URL: "https://docs.ai-elements.dev"},
	{Title: "React Best Practices", URL: "https://react.dev/learn"},
	{Title: "TypeScript Guide", URL: "https://www.typescriptlang.org/docs"},
}

const simulatedNotice = "This is a simulated response demonstrating the AI Elements chatbot functionality. " +
	"In a real implementation, this would connect to actual AI APIs like OpenAI, Anthropic, or others."

const reasoningText = "Let me think about this step by step:\n" +
	"1. Analyzing the user's question\n" +
	"2. Considering relevant context\n" +
	"3. Formulating a helpful response"

// OpeningPhrases returns a copy of the canned reply openers.
func OpeningPhrases() []string {
	return append([]string(nil), openingPhrases[:]...)
}

// SourcePool returns a copy of the citation pool in its fixed order.
func SourcePool() []Source {
	return append([]Source(nil), sourcePool[:]...)
}

// ReasoningText returns the fixed reasoning block.
func ReasoningText() string { return reasoningText }

func composeReply(opening, prompt string) string {
	return opening + "\n\nYou asked: \"" + prompt + "\"\n\n" + simulatedNotice
}
