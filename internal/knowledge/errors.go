package knowledge

import (
	"errors"
	"fmt"
)

var (
	// ErrDataSource means the document directory could not supply any documents.
	ErrDataSource = errors.New("data source unavailable")
	// ErrDeserialization means the persisted index could not be loaded.
	ErrDeserialization = errors.New("persisted index unreadable")
	// ErrUnsupportedType is returned for files the loader cannot read as text.
	ErrUnsupportedType = errors.New("unsupported document type")
)

// DataSourceError reports a missing, unreadable or empty document directory.
type DataSourceError struct {
	Dir string
	Err error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %s: %v", e.Dir, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

func (e *DataSourceError) Is(target error) bool { return target == ErrDataSource }

// DeserializationError reports a persist directory that exists but does not
// hold a readable index.
type DeserializationError struct {
	Dir string
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("load index from %s: %v", e.Dir, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func (e *DeserializationError) Is(target error) bool { return target == ErrDeserialization }
