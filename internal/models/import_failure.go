package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ImportFailureRecord is the forensic copy of a message the pipeline could
// not import. It is written once and never updated here.
type ImportFailureRecord struct {
	ID            uuid.UUID         `json:"id" msgpack:"id"`
	Path          IntakePath        `json:"path" msgpack:"path"`
	InputAddress  string            `json:"input_address" msgpack:"input_address"`
	Headers       map[string]string `json:"headers,omitempty" msgpack:"headers,omitempty"`
	RawPayload    []byte            `json:"raw_payload" msgpack:"raw_payload"`
	ExceptionText string            `json:"exception_text" msgpack:"exception_text"`
	WrittenAt     time.Time         `json:"written_at" msgpack:"written_at"`
}

// Validation errors
var (
	ErrEmptyRecordID      = errors.New("import failure record ID cannot be empty")
	ErrEmptyExceptionText = errors.New("exception text cannot be empty")
	ErrZeroWrittenAt      = errors.New("written-at timestamp cannot be zero")
)

// NewImportFailureRecord captures msg and the error that stopped its import.
func NewImportFailureRecord(msg *TransportMessage, cause error) *ImportFailureRecord {
	rec := &ImportFailureRecord{
		ID:        uuid.New(),
		WrittenAt: time.Now().UTC(),
	}
	if cause != nil {
		rec.ExceptionText = cause.Error()
	}
	if msg != nil {
		rec.Path = msg.Path
		rec.InputAddress = msg.InputAddress
		rec.Headers = msg.Headers.Map()
		rec.RawPayload = append([]byte(nil), msg.Body...)
	}
	return rec
}

// Validate checks the record can be persisted.
func (r *ImportFailureRecord) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRecordID
	}
	if r.ExceptionText == "" {
		return ErrEmptyExceptionText
	}
	if r.WrittenAt.IsZero() {
		return ErrZeroWrittenAt
	}
	return nil
}
