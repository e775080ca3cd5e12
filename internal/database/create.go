package database

import (
	"database/sql"
	"errors"
	"io/fs"
	"log"
	"os"

	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
)

// Create writes a new database file and applies schema to it.
// An existing file is never touched.
func Create(path, schema string) error {
	if _, err := os.Stat(path); err == nil {
		return aeerrors.NewStorageError(aeerrors.CodeFileExists, "can not create new database, file already exists", nil).
			WithDetails(map[string]interface{}{"file": path})
	} else if !errors.Is(err, fs.ErrNotExist) {
		return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to stat database file", err).
			WithDetails(map[string]interface{}{"file": path})
	}

	db, err := sql.Open("sqlite3", dsn(path, types.ModeReadWriteCreate))
	if err != nil {
		return queryError("failed to create database", err, path)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		os.Remove(path)
		return queryError("failed to apply schema", err, path)
	}
	log.Printf("database: created %s", path)
	return nil
}
