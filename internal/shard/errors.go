package shard

import (
	"errors"
	"fmt"
)

// ErrStorage matches every StorageError via errors.Is.
var ErrStorage = errors.New("storage")

// StorageError reports a shard that is out of range, missing, unreadable or
// not decodable.
type StorageError struct {
	Shard int
	Path  string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage: shard %d: %v", e.Shard, e.Err)
	}
	return fmt.Sprintf("storage: shard %d (%s): %v", e.Shard, e.Path, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }
