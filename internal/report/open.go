// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"fmt"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// Open returns the store selected by cfg.Backend.
func Open(cfg types.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case types.BackendFile, "":
		return NewFileStore(cfg.Dir)
	case types.BackendSQLite:
		return OpenSQLite(cfg.Dir)
	case types.BackendPostgres:
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q: use file, sqlite, or postgres", cfg.Backend)
	}
}
