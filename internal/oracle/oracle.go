// Package oracle defines the reasoning oracle contract and an adapter for
// OpenAI-compatible chat completion endpoints.
package oracle

import (
	"context"
	"errors"
)

// Options qualify a single reasoning call.
type Options struct {
	LocalModel     bool
	Source         string
	Context        map[string]any
	SystemOverride string
}

// Result is the explicit outcome of a reasoning call. A failed call has
// OK false and a non-empty Error.
type Result struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Success wraps text as a successful result.
func Success(text string) Result {
	return Result{OK: true, Text: text}
}

// Failure wraps err as a failed result.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown oracle failure")
	}
	return Result{Error: err.Error()}
}

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errors.New("oracle call failed")
	}
	return errors.New(r.Error)
}

// Oracle turns a prompt into text. Implementations report failures
// through Result and never panic.
type Oracle interface {
	Reason(ctx context.Context, prompt string, opts Options) Result
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, prompt string, opts Options) Result

func (f Func) Reason(ctx context.Context, prompt string, opts Options) Result {
	return f(ctx, prompt, opts)
}
