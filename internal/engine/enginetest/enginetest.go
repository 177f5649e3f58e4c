// Package enginetest provides a scripted engine.Engine for tests.
package enginetest

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/kalambet/rehearse/internal/engine"
)

// ErrScriptExhausted is returned by Chat when no scripted reply remains and
// no ChatFunc is set.
var ErrScriptExhausted = errors.New("enginetest: no scripted reply left")

// Fake replays queued chat replies and produces deterministic embeddings.
// ChatFunc and EmbedFunc, when set, take precedence over the script.
type Fake struct {
	ChatFunc  func(req engine.ChatRequest) (string, error)
	EmbedFunc func(text string) ([]float32, error)
	Down      bool

	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []engine.ChatRequest
	embeds   []string
}

// New returns a Fake that answers Chat with replies in order.
func New(replies ...string) *Fake {
	return &Fake{replies: replies, errs: make([]error, len(replies))}
}

// Reply queues another reply.
func (f *Fake) Reply(s string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, s)
	f.errs = append(f.errs, nil)
	return f
}

// Fail queues an error in place of the next reply.
func (f *Fake) Fail(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, "")
	f.errs = append(f.errs, err)
	return f
}

func (f *Fake) Chat(_ context.Context, req engine.ChatRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.ChatFunc
	if fn != nil {
		f.mu.Unlock()
		return fn(req)
	}
	defer f.mu.Unlock()

	if len(f.replies) == 0 {
		return "", ErrScriptExhausted
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	return reply, err
}

// Embed hashes text into a small vector so equal texts embed equally.
func (f *Fake) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	f.mu.Lock()
	f.embeds = append(f.embeds, text)
	fn := f.EmbedFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return HashVector(text), nil
}

func (f *Fake) IsRunning(context.Context) bool { return !f.Down }

// Requests returns a copy of every chat request received.
func (f *Fake) Requests() []engine.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.ChatRequest(nil), f.requests...)
}

// EmbedCount returns how many texts were embedded.
func (f *Fake) EmbedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embeds)
}

// HashVector is the Fake's embedding: a normalized 8-dimensional vector
// derived from an FNV hash of text.
func HashVector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	sum := h.Sum64()
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32((sum>>(i*8))&0xff)/255 + 0.01
	}
	return vec
}
