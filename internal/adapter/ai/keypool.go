// Package ai holds shared pieces of the chat provider adapters: the rotating
// credential pool and the transcript token budget.
package ai

import (
	"fmt"
	"log/slog"
	"sync"
)

// KeyPool is a round-robin credential pool. Rotation happens on provider
// failure, never on success, so a healthy key stays in use.
type KeyPool struct {
	mu    sync.Mutex
	keys  []string
	index int
}

// NewKeyPool validates and wraps the configured keys.
func NewKeyPool(keys []string) (*KeyPool, error) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("no chat API keys configured")
	}
	slog.Info("chat credential pool loaded", slog.Int("keys", len(cleaned)))
	return &KeyPool{keys: cleaned}, nil
}

// Current returns the active key.
func (p *KeyPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.index]
}

// Rotate advances to the next key and returns it.
func (p *KeyPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = (p.index + 1) % len(p.keys)
	slog.Warn("rotating chat API key", slog.Int("key_index", p.index))
	return p.keys[p.index]
}

// Size reports the number of pooled keys.
func (p *KeyPool) Size() int { return len(p.keys) }
