package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned by file-backed storage after Close.
var ErrClosed = errors.New("storage is closed")
