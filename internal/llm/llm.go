// Package llm provides a minimal client for OpenAI-compatible chat
// completion endpoints plus document extraction that degrades to pattern
// matching when no model is configured.
package llm

import (
	"context"
	"errors"
)

// Sentinel errors for completion calls.
var (
	// ErrNotConfigured is returned when no API key is available.
	ErrNotConfigured = errors.New("llm client not configured")

	// ErrEmptyCompletion is returned when the model responds with no content.
	ErrEmptyCompletion = errors.New("llm returned empty completion")
)

type (
	// Request is one completion call. JSONMode asks the model to respond
	// with strict JSON only.
	Request struct {
		System   string
		Prompt   string
		JSONMode bool
	}

	// Completer produces a completion for a request. Implemented by Client;
	// stubbed in tests.
	Completer interface {
		Complete(ctx context.Context, req Request) (string, error)
	}
)
