package storage

import (
	"context"
	"fmt"

	"faultline/internal/logger"
	"faultline/internal/models"
)

// Archive persists a record and then writes its forensic file.
type Archive struct {
	records RecordStore
	files   *FileWriter
}

// NewArchive creates an archive. files may be nil to skip the text file.
func NewArchive(records RecordStore, files *FileWriter) *Archive {
	return &Archive{records: records, files: files}
}

// Records returns the underlying record store.
func (a *Archive) Records() RecordStore { return a.records }

// Persist stores rec and returns where an operator can find it: the
// forensic file path, or the record id if no file was written.
func (a *Archive) Persist(ctx context.Context, rec *models.ImportFailureRecord) (string, error) {
	if err := a.records.Save(ctx, rec); err != nil {
		return "", fmt.Errorf("save import failure record: %w", err)
	}
	location := "record:" + rec.ID.String()

	if a.files == nil {
		return location, nil
	}
	path, err := a.files.Write(rec)
	if err != nil {
		// The record is durable; the text file is a convenience copy.
		log := logger.WithComponent("archive")
		log.Warn().Err(err).Str("record_id", rec.ID.String()).Msg("Failed to write forensic file")
		return location, nil
	}
	return path, nil
}
