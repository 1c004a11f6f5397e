// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Supported key files: llm-api-key, lightrag-api-key, google-api-key, google-cse-id,
// openalex-email, postgres-dsn.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// Key file names understood by Apply.
const (
	KeyLLM           = "llm-api-key"
	KeyLightRAG      = "lightrag-api-key"
	KeyGoogleAPI     = "google-api-key"
	KeyGoogleCSE     = "google-cse-id"
	KeyOpenAlexEmail = "openalex-email"
	KeyPostgresDSN   = "postgres-dsn"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, log *zap.Logger) (map[string]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills empty credential fields of cfg from loaded secrets. Values
// already set by the config file or environment win.
func Apply(cfg *types.Config, secrets map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = secrets[key]
		}
	}
	fill(&cfg.Model.APIKey, KeyLLM)
	fill(&cfg.LightRAG.APIKey, KeyLightRAG)
	fill(&cfg.Search.GoogleAPIKey, KeyGoogleAPI)
	fill(&cfg.Search.GoogleCSEID, KeyGoogleCSE)
	fill(&cfg.Search.OpenAlexEmail, KeyOpenAlexEmail)
	fill(&cfg.Store.DSN, KeyPostgresDSN)
}
