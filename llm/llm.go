// Package llm provides text generation for astrology tasks.
//
// The Generator interface is the boundary the worker calls through; the
// worker never shows a raw generator error to a requester, it substitutes
// the fixed fallback text and marks the task errored.
package llm

import "context"

// Generator produces a response for a task payload. The optional extra
// string carries side context (a requester name, prior conversation) and
// may be empty.
type Generator interface {
	Generate(ctx context.Context, input, extra string) (string, error)
}

// Fixed user-safe texts substituted when generation fails. These are the
// messages requesters see; raw errors stay in the logs.
const (
	FallbackReading = "Sorry, I couldn't generate your astrology reading at this time."
	FallbackChat    = "Sorry, I couldn't generate a response. Please try again with a different question."
)

// System prompts for the two request kinds.
const (
	ReadingPrompt = "You are a friendly astrology assistant. Given a person's name (optional) " +
		"and their sun sign, write a concise, empathetic astrology paragraph (3-5 sentences) " +
		"that highlights personality traits, one practical tip and a short affirmation."

	ChatPrompt = "You are a friendly astrology assistant. Answer the user's question " +
		"conversationally, grounding your answer in astrology when it applies. Keep " +
		"responses short and warm."
)

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, input, extra string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, input, extra string) (string, error) {
	return f(ctx, input, extra)
}
