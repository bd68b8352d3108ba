// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

// Package ollama provides chat-completion and text-embedding clients for a
// locally hosted Ollama inference server.
//
// Clients are configured through fluent builders and are immutable once
// built, so a single client may be shared across goroutines.
//
// # Key Types
//
//   - ChatClient: non-streaming and streaming chat completions
//   - EmbeddingClient: batch and single-text embeddings
//   - Message: role-tagged conversation text
//   - Stream: cancellable sequence of incremental response chunks
//   - ClientError: typed error carrying the failure kind
//
// # Usage
//
// Create a chat client and send a request:
//
//	llm, err := ollama.NewChat("llama3.2").Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := llm.Invoke(ctx, []ollama.Message{ollama.NewUserMessage("Hello!")})
//
// For streaming responses:
//
//	stream, err := llm.Stream(ctx, messages)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(chunk.Content)
//	}
//
// # Errors
//
// Failures carry one of the kinds Network, Timeout, Server, Decode,
// EmptyInput or Config. Network and Timeout are transient and retried up to
// the configured attempt budget; the other kinds surface immediately.
package ollama
