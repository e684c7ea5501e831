package knowledge

import (
	"context"
	"fmt"
	"strings"
)

const contextHeader = "Relevant lessons from previous tasks:"

// PackStore assembles prompt context from cached lessons. It owns the
// embedding step: callers hand it raw task text and get back a formatted
// context block, or "" when nothing relevant is cached.
type PackStore struct {
	manager  *Manager
	embedder Embedder
}

// NewPackStore combines a Manager with the Embedder used for query vectors.
func NewPackStore(manager *Manager, embedder Embedder) *PackStore {
	return &PackStore{manager: manager, embedder: embedder}
}

// AssembleContext embeds the task text, looks up relevant lessons, and
// formats them into a context block. An empty result yields "", which
// callers can drop into a prompt template unconditionally. Embedder
// failures are returned as-is; a degraded embedder should not silently
// produce contextless prompts.
func (p *PackStore) AssembleContext(ctx context.Context, taskText string, maxResults int) (string, error) {
	vec, err := p.embedder.Embed(ctx, taskText)
	if err != nil {
		return "", fmt.Errorf("knowledge: embed task: %w", err)
	}

	refs, err := p.manager.Lookup(ctx, taskText, vec, maxResults)
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for i, ref := range refs {
		b.WriteString("\n\n")
		b.WriteString(ref.Format(i + 1))
	}
	return b.String(), nil
}
