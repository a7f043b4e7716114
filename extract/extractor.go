// Package extract resolves the resource a tool call operates on, pluggable
// per toolset.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lookatitude/agentgraph/uri"
)

// Extractor returns the canonical URI of the resource a tool call touches,
// or ok == false if the tool name/args pair does not reference one.
type Extractor interface {
	Extract(ctx context.Context, toolName string, args map[string]any) (resourceURI string, ok bool, err error)
}

// Factory builds an Extractor from a canonicalization root.
type Factory func(root string) (Extractor, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a named extractor factory. Re-registering a name is
// allowed and overwrites the previous factory, mirroring the pack's
// init()-based registration idiom for test overrides.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New builds the named extractor.
func New(name string, root string) (Extractor, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("extract: unknown extractor %q", name)
	}
	return factory(root)
}

// List returns the names of every registered extractor.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func init() {
	Register("default", func(root string) (Extractor, error) {
		return &defaultExtractor{root: root}, nil
	})
}

// defaultExtractor recognizes the conventional argument keys used by
// file-oriented and URL-oriented tools. File args are resolved through
// [uri.Canonicalize]; URL args are returned verbatim, since they already
// name a stable, scheme-qualified resource.
type defaultExtractor struct {
	root string
}

var (
	fileArgKeys = []string{"path", "file_path", "filepath", "file", "filename"}
	urlArgKeys  = []string{"url", "uri", "endpoint"}
)

func (e *defaultExtractor) Extract(_ context.Context, _ string, args map[string]any) (string, bool, error) {
	for _, key := range fileArgKeys {
		s, ok := stringArg(args, key)
		if !ok {
			continue
		}
		if !strings.HasPrefix(s, "file://") {
			s = "file://" + s
		}
		canon, err := uri.Canonicalize(s, e.root)
		if err != nil {
			return "", false, fmt.Errorf("extract: canonicalize %q: %w", s, err)
		}
		return canon, true, nil
	}

	for _, key := range urlArgKeys {
		s, ok := stringArg(args, key)
		if !ok {
			continue
		}
		return s, true, nil
	}

	return "", false, nil
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

var _ Extractor = (*defaultExtractor)(nil)
