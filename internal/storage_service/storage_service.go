package storage_service

import (
	"context"

	"github.com/AnishMulay/flashfs/internal/load_balancer"
	"github.com/AnishMulay/flashfs/internal/metadata_service"
)

// StorageService is the public surface of the storage accelerator: the
// POSIX-style verbs the kernel bridge dispatches to. Data operations may
// block on drive completions (bounded by the per-operation timeout) and
// honor ctx cancellation; catalog operations never touch a drive while the
// catalog is locked.
type StorageService interface {
	CreateFile(ctx context.Context, path string, mode uint32) error
	CreateDirectory(ctx context.Context, path string, mode uint32) error
	RemoveDirectory(ctx context.Context, path string) error
	Chmod(ctx context.Context, path string, mode uint32) error
	Chown(ctx context.Context, path string, uid, gid uint32) error
	Utimens(ctx context.Context, path string, atime, mtime int64) error
	GetMetadata(ctx context.Context, path string) (metadata_service.FileMetadata, error)
	ListDirectory(ctx context.Context, path string) ([]string, error)

	DeleteFile(ctx context.Context, path string) error
	TruncateFile(ctx context.Context, path string, size int64) error
	ReadFile(ctx context.Context, path string, dest []byte, offset int64) (int, error)
	WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error)
	RenameFile(ctx context.Context, from, to string, flags uint32) error

	DriveLoads() []load_balancer.DriveLoad
	DriveQueueDepths() []int
	CatalogSize() int
	Close() error
}
