package drive_service

import "errors"

var (
	ErrDriveBusy     = errors.New("drive queue full")
	ErrDriveStopped  = errors.New("drive stopped")
	ErrBlockNotFound = errors.New("no data for path on drive")
	ErrDriveIO       = errors.New("drive I/O error")
	ErrTimedOut      = errors.New("drive operation timed out")
)
