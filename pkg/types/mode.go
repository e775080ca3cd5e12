// Package types provides the public data types shared by the waveform database packages.
package types

import (
	"fmt"
)

// Mode is the access mode of a database session.
type Mode string

const (
	// ModeReadOnly allows any number of concurrent sessions on the same file.
	ModeReadOnly Mode = "ro"
	// ModeReadWrite opens a single exclusive session tuned for write throughput.
	ModeReadWrite Mode = "rw"
	// ModeReadWriteCreate is accepted by ParseMode but rejected by Open.
	ModeReadWriteCreate Mode = "rwc"
)

// ValidModes lists the recognized access modes.
var ValidModes = []Mode{ModeReadOnly, ModeReadWrite, ModeReadWriteCreate}

// ParseMode parses an access mode string.
func ParseMode(s string) (Mode, error) {
	for _, m := range ValidModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid access mode %q, use one of %v", s, ValidModes)
}

// ReadOnly reports whether the mode forbids writes.
func (m Mode) ReadOnly() bool {
	return m == ModeReadOnly
}
