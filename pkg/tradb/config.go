package tradb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aewave/aewave/pkg/config"
)

// OpenConfig opens the tradb file named by cfg.Tradb. With CreateIfMissing
// in rw mode an empty file is created first.
func OpenConfig(cfg *config.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tradb.Path == "" {
		return nil, fmt.Errorf("tradb.path is required")
	}

	var opts []Option
	if cfg.Tradb.Compression {
		opts = append(opts, WithCompression())
	}
	if !cfg.Tradb.CheckExtension {
		opts = append(opts, WithoutExtensionCheck())
	}

	if cfg.Tradb.CreateIfMissing {
		if _, err := os.Stat(cfg.Tradb.Path); errors.Is(err, fs.ErrNotExist) {
			if err := Create(cfg.Tradb.Path); err != nil {
				return nil, err
			}
		}
	}
	return Open(cfg.Tradb.Path, cfg.Mode, opts...)
}
