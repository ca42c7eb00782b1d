package storage_service

import "errors"

// The accelerator's error kinds. The kernel bridge translates these to
// negative POSIX codes; nothing else crosses that boundary.
var (
	ErrNotFound     = errors.New("no such file or directory")
	ErrExists       = errors.New("file exists")
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrBusy         = errors.New("device or resource busy")
	ErrTimedOut     = errors.New("operation timed out")
	ErrIO           = errors.New("input/output error")
)
