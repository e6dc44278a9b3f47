// Package blob re-exports core blob abstractions for stable external imports.
package blob

import (
	"tubetrack/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// KeyError carries the key of a failed lookup or write.
	KeyError = core.KeyError
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists indicates Put targeted an existing key.
	ErrExists = core.ErrExists
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrInvalidKey indicates a key no driver accepts.
	ErrInvalidKey = core.ErrInvalidKey
)

// ValidateKey checks a complete blob key.
func ValidateKey(key string) error { return core.ValidateKey(key) }

// ValidateSegment checks one element of a blob key.
func ValidateSegment(seg string) error { return core.ValidateSegment(seg) }
