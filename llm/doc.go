// Package llm is a streaming client for chat-completion providers.
//
// One [Client] talks to one provider. Providers are a closed set of
// [ProviderKind] values, each with an [Adapter] that builds requests and turns
// the provider's byte stream into provider-neutral [StreamEvent]s.
//
// # Architecture
//
// The package provides:
//   - Neutral types: [Turn], [StreamEvent], [Usage], [ModelParams]
//   - [Adapter] implementations: OpenAI-compatible SSE, Anthropic messages,
//     Ollama NDJSON and a generic SSE dialect
//   - [Pump]: a bounded event buffer between the network reader and a
//     pull-based consumer, with cancellation and partial-turn flushing
//   - [Memory]: the turn log of one conversation, with token-aware windows
//   - [Client] and [Conversation]: rate limiting, concurrency caps, circuit
//     breaking and connection retries around each exchange
//   - [Observer] sinks for lifecycle [Event]s: [LogObserver], [MetricsObserver]
//
// # Usage
//
//	client, err := llm.NewClient(llm.ClientConfig{
//	    Provider: llm.ProviderDeepseek,
//	    APIKey:   os.Getenv("DEEPSEEK_API_KEY"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	conv := client.NewConversation(llm.WithSystemPrompt("Answer briefly."))
//	reply, err := conv.Send(ctx, llm.UserTurn("Hello!"))
//
// Streaming hands back the events as they arrive:
//
//	stream, err := conv.Stream(ctx, llm.UserTurn("Tell me a story"))
//	if err != nil {
//	    return err
//	}
//	for ev, err := range stream.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(ev.Text)
//	}
//
// A conversation only records an exchange once its reply completes, so a
// failed or cancelled exchange leaves history untouched unless the caller
// commits the partial reply with [Pump.Flush].
package llm
