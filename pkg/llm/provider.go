// Package llm provides the chat-completion abstraction used by the option
// oracle.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o-mini"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reply, err := provider.Complete(ctx, []*llm.Message{
//	    llm.NewSystemMessage("Answer in JSON."),
//	    llm.NewUserMessage("Which option matches 'USA'?"),
//	})
package llm

import "context"

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication only. Prompt construction, response
// parsing and pacing belong to the caller.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response chunks.
	//
	// The channel is closed when streaming completes or an error occurs.
	// Stream-time errors arrive as chunks with Error set; the returned error
	// is non-nil only if the request could not be started.
	StreamCompletion(ctx context.Context, messages []*Message) (<-chan *StreamChunk, error)

	// Complete accumulates a streamed completion into a single assistant
	// message. Reasoning output is dropped.
	Complete(ctx context.Context, messages []*Message) (*Message, error)

	// GetModelInfo returns information about the LLM model being used.
	GetModelInfo() *ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}
