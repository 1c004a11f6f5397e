// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Prompt names. A stage with more than one loop has one prompt per loop.
const (
	PromptAnalyst  = "analyst"
	PromptSearcher = "searcher"
	PromptRanker   = "ranker"
	PromptIngester = "ingester"
	PromptAuditor  = "auditor"
	PromptFixer    = "fixer"
	PromptAdvisor  = "advisor"
)

// PromptNames lists every prompt a run uses.
var PromptNames = []string{PromptAnalyst, PromptSearcher, PromptRanker, PromptIngester, PromptAuditor, PromptFixer, PromptAdvisor}

//go:embed prompts/*.txt
var embedded embed.FS

// Prompts maps prompt names to loop instructions.
type Prompts map[string]string

// DefaultPrompts returns the built-in instructions.
func DefaultPrompts() Prompts {
	p := make(Prompts, len(PromptNames))
	for _, name := range PromptNames {
		data, err := embedded.ReadFile("prompts/" + name + ".txt")
		if err != nil {
			panic(fmt.Sprintf("missing embedded prompt %s: %v", name, err))
		}
		p[name] = strings.TrimSpace(string(data))
	}
	return p
}

// LoadPrompts returns the built-in instructions overridden by dir. A
// prompts.yaml file in dir maps names to text; a <name>.txt file replaces
// one prompt and wins over the YAML entry. An empty dir yields the defaults.
func LoadPrompts(dir string) (Prompts, error) {
	p := DefaultPrompts()
	if dir == "" {
		return p, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, "prompts.yaml"))
	switch {
	case err == nil:
		var overrides map[string]string
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("parsing prompts.yaml: %w", err)
		}
		for name, text := range overrides {
			if _, ok := p[name]; !ok {
				return nil, fmt.Errorf("prompts.yaml: unknown prompt %q", name)
			}
			p[name] = strings.TrimSpace(text)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading prompts.yaml: %w", err)
	}

	for _, name := range PromptNames {
		data, err := os.ReadFile(filepath.Join(dir, name+".txt"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading prompt %s: %w", name, err)
		}
		p[name] = strings.TrimSpace(string(data))
	}
	return p, nil
}

func (p Prompts) get(name string) string {
	if s, ok := p[name]; ok && s != "" {
		return s
	}
	return DefaultPrompts()[name]
}
