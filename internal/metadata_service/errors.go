package metadata_service

import "errors"

var (
	ErrPathAlreadyExists = errors.New("path already exists")
	ErrPathNotFound      = errors.New("path not found")
	ErrNotADirectory     = errors.New("path is not a directory")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
)
