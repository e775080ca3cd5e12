package trfdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aewave/aewave/pkg/config"
)

// OpenConfig opens the trfdb file named by cfg.Trfdb. With CreateIfMissing
// in rw mode an empty file is created first.
func OpenConfig(cfg *config.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Trfdb.Path == "" {
		return nil, fmt.Errorf("trfdb.path is required")
	}

	var opts []Option
	if !cfg.Trfdb.CheckExtension {
		opts = append(opts, WithoutExtensionCheck())
	}
	if cfg.Trfdb.CreateIfMissing {
		if _, err := os.Stat(cfg.Trfdb.Path); errors.Is(err, fs.ErrNotExist) {
			if err := Create(cfg.Trfdb.Path); err != nil {
				return nil, err
			}
		}
	}
	return Open(cfg.Trfdb.Path, cfg.Mode, opts...)
}
