package pridb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aewave/aewave/pkg/config"
)

// OpenConfig opens the pridb file named by cfg.Pridb. With CreateIfMissing
// in rw mode an empty file is created first.
func OpenConfig(cfg *config.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Pridb.Path == "" {
		return nil, fmt.Errorf("pridb.path is required")
	}

	var opts []Option
	if !cfg.Pridb.CheckExtension {
		opts = append(opts, WithoutExtensionCheck())
	}
	if cfg.Pridb.CreateIfMissing {
		if _, err := os.Stat(cfg.Pridb.Path); errors.Is(err, fs.ErrNotExist) {
			if err := Create(cfg.Pridb.Path); err != nil {
				return nil, err
			}
		}
	}
	return Open(cfg.Pridb.Path, cfg.Mode, opts...)
}
