package storage_service

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/AnishMulay/flashfs/internal/drive_service"
	"github.com/AnishMulay/flashfs/internal/load_balancer"
	"github.com/AnishMulay/flashfs/internal/log_service"
	"github.com/AnishMulay/flashfs/internal/metadata_service"
	"github.com/AnishMulay/flashfs/internal/placement_service"
	"golang.org/x/sync/errgroup"
)

const (
	blockSize = 4096
	opTimeout = 5 * time.Second
)

// StorageAccelerator fans file-system operations out across a bank of
// simulated drives. Placement is hash-based per 4 KiB block, the load
// balancer may redirect a block away from a saturated primary, and the
// metadata catalog stays authoritative for sizes and times.
type StorageAccelerator struct {
	placer   placement_service.Placer
	catalog  metadata_service.MetadataService
	balancer *load_balancer.LoadBalancer
	drives   []drive_service.DriveService
	ls       log_service.LogService
}

func NewStorageAccelerator(numDrives int, hashSeed string, ls log_service.LogService) *StorageAccelerator {
	ls.Info(log_service.LogEvent{
		Message:  "Initializing storage accelerator",
		Metadata: map[string]any{"drives": numDrives, "seed": hashSeed},
	})

	drives := make([]drive_service.DriveService, numDrives)
	for i := 0; i < numDrives; i++ {
		drives[i] = drive_service.NewSimulatedDriveService(i, ls)
	}

	return &StorageAccelerator{
		placer:   placement_service.NewCityHashPlacer(hashSeed, numDrives),
		catalog:  metadata_service.NewInMemoryMetadataService(),
		balancer: load_balancer.NewLoadBalancer(numDrives, ls),
		drives:   drives,
		ls:       ls,
	}
}

// Close drains and joins every drive worker.
func (sa *StorageAccelerator) Close() error {
	sa.ls.Info(log_service.LogEvent{Message: "Shutting down storage accelerator"})

	var g errgroup.Group
	for _, drive := range sa.drives {
		drive := drive
		g.Go(func() error {
			drive.Close()
			return nil
		})
	}
	return g.Wait()
}

// --- Catalog operations ---

func (sa *StorageAccelerator) CreateFile(ctx context.Context, path string, mode uint32) error {
	now := time.Now().Unix()
	metadata := metadata_service.FileMetadata{
		Mode:  syscall.S_IFREG | (mode & 0o777),
		Nlink: 1,
		UID:   uint32(os.Getuid()),
		GID:   uint32(os.Getgid()),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if err := sa.catalog.Create(path, metadata); err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Create file failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrExists
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "File created",
		Metadata: map[string]any{"path": path, "mode": mode & 0o777},
	})
	return nil
}

func (sa *StorageAccelerator) CreateDirectory(ctx context.Context, path string, mode uint32) error {
	now := time.Now().Unix()
	metadata := metadata_service.FileMetadata{
		Mode:  syscall.S_IFDIR | (mode & 0o777),
		Nlink: 2,
		UID:   uint32(os.Getuid()),
		GID:   uint32(os.Getgid()),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if err := sa.catalog.Create(path, metadata); err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Create directory failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrExists
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "Directory created",
		Metadata: map[string]any{"path": path, "mode": mode & 0o777},
	})
	return nil
}

func (sa *StorageAccelerator) RemoveDirectory(ctx context.Context, path string) error {
	if err := sa.catalog.RemoveDirectory(path); err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Remove directory failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		switch {
		case errors.Is(err, metadata_service.ErrPathNotFound):
			return ErrNotFound
		case errors.Is(err, metadata_service.ErrNotADirectory):
			return ErrNotDirectory
		default:
			return ErrNotEmpty
		}
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "Directory removed",
		Metadata: map[string]any{"path": path},
	})
	return nil
}

func (sa *StorageAccelerator) Chmod(ctx context.Context, path string, mode uint32) error {
	err := sa.catalog.Update(path, func(m *metadata_service.FileMetadata) {
		m.Mode = (m.Mode & syscall.S_IFMT) | (mode & 0o7777)
		m.Ctime = time.Now().Unix()
	})
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Chmod failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrNotFound
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "Changed mode",
		Metadata: map[string]any{"path": path, "mode": mode & 0o7777},
	})
	return nil
}

func (sa *StorageAccelerator) Chown(ctx context.Context, path string, uid, gid uint32) error {
	err := sa.catalog.Update(path, func(m *metadata_service.FileMetadata) {
		m.UID = uid
		m.GID = gid
		m.Ctime = time.Now().Unix()
	})
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Chown failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrNotFound
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "Changed owner",
		Metadata: map[string]any{"path": path, "uid": uid, "gid": gid},
	})
	return nil
}

func (sa *StorageAccelerator) Utimens(ctx context.Context, path string, atime, mtime int64) error {
	err := sa.catalog.Update(path, func(m *metadata_service.FileMetadata) {
		m.Atime = atime
		m.Mtime = mtime
	})
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Utimens failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrNotFound
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "Updated timestamps",
		Metadata: map[string]any{"path": path},
	})
	return nil
}

func (sa *StorageAccelerator) GetMetadata(ctx context.Context, path string) (metadata_service.FileMetadata, error) {
	metadata, err := sa.catalog.Get(path)
	if err != nil {
		return metadata_service.FileMetadata{}, ErrNotFound
	}
	return metadata, nil
}

func (sa *StorageAccelerator) ListDirectory(ctx context.Context, path string) ([]string, error) {
	return sa.catalog.ListDirectory(path), nil
}

// --- Data operations ---

func (sa *StorageAccelerator) DeleteFile(ctx context.Context, path string) error {
	metadata, err := sa.catalog.Get(path)
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Delete file failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrNotFound
	}
	if metadata.IsDir() {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Delete file failed: path is a directory",
			Metadata: map[string]any{"path": path},
		})
		return ErrIsDirectory
	}

	// Drive data goes first, the catalog record second: a racing reader may
	// observe "exists but empty", never data without a record.
	for _, drive := range sa.holderDrives(path, metadata.Size) {
		completion := sa.drives[drive].EnqueueIO(&drive_service.IORequest{
			Type: drive_service.IODelete,
			Path: path,
		})
		result, waitErr := completion.Wait(ctx, opTimeout)
		if waitErr != nil {
			return sa.mapWaitError(path, waitErr)
		}
		if result.Err != nil {
			return sa.mapDriveError(path, result.Err)
		}
	}

	if err := sa.catalog.Remove(path); err != nil {
		return ErrNotFound
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "File deleted",
		Metadata: map[string]any{"path": path},
	})
	return nil
}

func (sa *StorageAccelerator) TruncateFile(ctx context.Context, path string, size int64) error {
	metadata, err := sa.catalog.Get(path)
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Truncate failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrNotFound
	}
	if !metadata.IsRegular() {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Truncate failed: not a regular file",
			Metadata: map[string]any{"path": path},
		})
		return ErrIsDirectory
	}

	// Every drive that can hold a block of this file gets the truncate; a
	// drive that never saw a write reports a miss, which is fine.
	limit := metadata.Size
	if size > limit {
		limit = size
	}
	for _, drive := range sa.holderDrives(path, limit) {
		completion := sa.drives[drive].EnqueueIO(&drive_service.IORequest{
			Type: drive_service.IOTruncate,
			Path: path,
			Size: size,
		})
		result, waitErr := completion.Wait(ctx, opTimeout)
		if waitErr != nil {
			return sa.mapWaitError(path, waitErr)
		}
		if result.Err != nil && !errors.Is(result.Err, drive_service.ErrBlockNotFound) {
			return sa.mapDriveError(path, result.Err)
		}
	}

	err = sa.catalog.Update(path, func(m *metadata_service.FileMetadata) {
		now := time.Now().Unix()
		m.Size = size
		m.Mtime = now
		m.Ctime = now
	})
	if err != nil {
		return ErrNotFound
	}
	sa.ls.Info(log_service.LogEvent{
		Message:  "File truncated",
		Metadata: map[string]any{"path": path, "size": size},
	})
	return nil
}

func (sa *StorageAccelerator) ReadFile(ctx context.Context, path string, dest []byte, offset int64) (int, error) {
	metadata, err := sa.catalog.Get(path)
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Read failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return 0, ErrNotFound
	}
	if metadata.IsDir() {
		return 0, ErrIsDirectory
	}
	if offset >= metadata.Size {
		return 0, nil
	}

	size := int64(len(dest))
	if metadata.Size-offset < size {
		size = metadata.Size - offset
	}

	var progress int64
	for progress < size {
		cur := offset + progress
		blockStart := cur - cur%blockSize
		chunk := blockStart + blockSize - cur
		if size-progress < chunk {
			chunk = size - progress
		}

		primary := sa.placer.PlaceBlock(path, blockStart)
		drive := sa.balancer.SelectDrive(primary, chunk)
		sa.ls.Debug(log_service.LogEvent{
			Message:  "Placed read block",
			Metadata: map[string]any{"path": path, "offset": cur, "primary": primary, "drive": drive},
		})

		sa.balancer.StartOperation(drive)
		started := time.Now()
		completion := sa.drives[drive].EnqueueIO(&drive_service.IORequest{
			Type:   drive_service.IORead,
			Path:   path,
			Size:   chunk,
			Offset: cur,
		})
		result, waitErr := completion.Wait(ctx, opTimeout)
		elapsed := time.Since(started)

		if waitErr != nil {
			sa.balancer.RecordOperation(drive, 0, elapsed)
			return 0, sa.mapWaitError(path, waitErr)
		}

		bytesRead := result.Bytes
		if bytesRead < 0 {
			bytesRead = 0
		}
		sa.balancer.RecordOperation(drive, bytesRead, elapsed)

		switch {
		case errors.Is(result.Err, drive_service.ErrBlockNotFound):
			// The catalog promises these bytes but no drive materialized
			// them: a hole. Holes read as zeros.
			zeroFill(dest[progress : progress+chunk])
		case result.Err != nil:
			return 0, sa.mapDriveError(path, result.Err)
		default:
			copy(dest[progress:progress+chunk], result.Data)
			if bytesRead < chunk {
				zeroFill(dest[progress+bytesRead : progress+chunk])
			}
		}
		progress += chunk
	}

	_ = sa.catalog.Update(path, func(m *metadata_service.FileMetadata) {
		m.Atime = time.Now().Unix()
	})
	sa.ls.Info(log_service.LogEvent{
		Message:  "Read complete",
		Metadata: map[string]any{"path": path, "offset": offset, "bytes": size},
	})
	return int(size), nil
}

func (sa *StorageAccelerator) WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	metadata, err := sa.catalog.Get(path)
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Write failed",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return 0, ErrNotFound
	}
	if metadata.IsDir() {
		return 0, ErrIsDirectory
	}

	size := int64(len(data))
	var progress int64
	for progress < size {
		cur := offset + progress
		blockStart := cur - cur%blockSize
		chunk := blockStart + blockSize - cur
		if size-progress < chunk {
			chunk = size - progress
		}

		primary := sa.placer.PlaceBlock(path, blockStart)
		drive := sa.balancer.SelectDrive(primary, chunk)
		sa.ls.Debug(log_service.LogEvent{
			Message:  "Placed write block",
			Metadata: map[string]any{"path": path, "offset": cur, "primary": primary, "drive": drive},
		})

		// The drive owns the request payload; the caller's buffer must not
		// be retained past this call.
		payload := make([]byte, chunk)
		copy(payload, data[progress:progress+chunk])

		sa.balancer.StartOperation(drive)
		started := time.Now()
		completion := sa.drives[drive].EnqueueIO(&drive_service.IORequest{
			Type:   drive_service.IOWrite,
			Path:   path,
			Data:   payload,
			Offset: cur,
		})
		result, waitErr := completion.Wait(ctx, opTimeout)
		elapsed := time.Since(started)

		if waitErr != nil {
			sa.balancer.RecordOperation(drive, 0, elapsed)
			return 0, sa.mapWaitError(path, waitErr)
		}
		if result.Err != nil {
			sa.balancer.RecordOperation(drive, 0, elapsed)
			return 0, sa.mapDriveError(path, result.Err)
		}
		sa.balancer.RecordOperation(drive, result.Bytes, elapsed)
		progress += result.Bytes
	}

	_ = sa.catalog.Update(path, func(m *metadata_service.FileMetadata) {
		m.Mtime = time.Now().Unix()
		if offset+size > m.Size {
			m.Size = offset + size
		}
	})
	sa.ls.Info(log_service.LogEvent{
		Message:  "Write complete",
		Metadata: map[string]any{"path": path, "offset": offset, "bytes": size},
	})
	return int(size), nil
}

func (sa *StorageAccelerator) RenameFile(ctx context.Context, from, to string, flags uint32) error {
	source, err := sa.catalog.Get(from)
	if err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Rename failed: source missing",
			Metadata: map[string]any{"from": from, "to": to},
		})
		return ErrNotFound
	}
	if sa.catalog.Exists(to) {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Rename failed: destination exists",
			Metadata: map[string]any{"from": from, "to": to},
		})
		return ErrExists
	}

	// Drive stores are keyed by path, so file data always moves: each block
	// is copied from its source placement to its destination placement
	// before the catalog swap. Copy-first keeps drive I/O outside the
	// catalog lock; the namespace flips atomically afterwards.
	migrated := source.IsRegular() && source.Size > 0
	if migrated {
		if err := sa.migrateBlocks(ctx, from, to, source.Size); err != nil {
			return err
		}
	}

	if err := sa.catalog.Rename(from, to); err != nil {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Rename failed: catalog swap rejected",
			Metadata: map[string]any{"from": from, "to": to, "error": err.Error()},
		})
		if errors.Is(err, metadata_service.ErrPathAlreadyExists) {
			return ErrExists
		}
		return ErrNotFound
	}

	if migrated {
		for _, drive := range sa.holderDrives(from, source.Size) {
			completion := sa.drives[drive].EnqueueIO(&drive_service.IORequest{
				Type: drive_service.IODelete,
				Path: from,
			})
			if _, waitErr := completion.Wait(ctx, opTimeout); waitErr != nil {
				return sa.mapWaitError(from, waitErr)
			}
		}
	}

	sa.ls.Info(log_service.LogEvent{
		Message:  "Renamed",
		Metadata: map[string]any{"from": from, "to": to},
	})
	return nil
}

func (sa *StorageAccelerator) migrateBlocks(ctx context.Context, from, to string, size int64) error {
	for blockStart := int64(0); blockStart < size; blockStart += blockSize {
		chunk := int64(blockSize)
		if size-blockStart < chunk {
			chunk = size - blockStart
		}
		srcDrive := sa.placer.PlaceBlock(from, blockStart)
		dstDrive := sa.placer.PlaceBlock(to, blockStart)

		readDone := sa.drives[srcDrive].EnqueueIO(&drive_service.IORequest{
			Type:   drive_service.IORead,
			Path:   from,
			Size:   chunk,
			Offset: blockStart,
		})
		readResult, waitErr := readDone.Wait(ctx, opTimeout)
		if waitErr != nil {
			return sa.mapWaitError(from, waitErr)
		}

		payload := readResult.Data
		switch {
		case errors.Is(readResult.Err, drive_service.ErrBlockNotFound):
			// Source hole, nothing to carry over.
			continue
		case readResult.Err != nil:
			sa.ls.Error(log_service.LogEvent{
				Message:  "Rename failed: error reading source block",
				Metadata: map[string]any{"from": from, "offset": blockStart, "error": readResult.Err.Error()},
			})
			return ErrIO
		case readResult.Bytes == 0:
			continue
		}

		writeDone := sa.drives[dstDrive].EnqueueIO(&drive_service.IORequest{
			Type:   drive_service.IOWrite,
			Path:   to,
			Data:   payload,
			Offset: blockStart,
		})
		writeResult, waitErr := writeDone.Wait(ctx, opTimeout)
		if waitErr != nil {
			return sa.mapWaitError(to, waitErr)
		}
		if writeResult.Err != nil {
			sa.ls.Error(log_service.LogEvent{
				Message:  "Rename failed: error writing destination block",
				Metadata: map[string]any{"to": to, "offset": blockStart, "error": writeResult.Err.Error()},
			})
			return ErrIO
		}
	}
	return nil
}

// --- Introspection ---

func (sa *StorageAccelerator) DriveLoads() []load_balancer.DriveLoad {
	return sa.balancer.Snapshot()
}

func (sa *StorageAccelerator) DriveQueueDepths() []int {
	depths := make([]int, len(sa.drives))
	for i, drive := range sa.drives {
		depths[i] = drive.QueueDepth()
	}
	return depths
}

func (sa *StorageAccelerator) CatalogSize() int {
	return sa.catalog.Count()
}

// --- Helpers ---

// holderDrives returns, in first-seen order, every drive a block of the
// path's first size bytes places onto. Whole-path placement is the fallback
// for empty files.
func (sa *StorageAccelerator) holderDrives(path string, size int64) []int {
	if size <= 0 {
		return []int{sa.placer.PlacePath(path)}
	}
	seen := make(map[int]struct{})
	var order []int
	for blockStart := int64(0); blockStart < size; blockStart += blockSize {
		drive := sa.placer.PlaceBlock(path, blockStart)
		if _, ok := seen[drive]; !ok {
			seen[drive] = struct{}{}
			order = append(order, drive)
		}
	}
	return order
}

func (sa *StorageAccelerator) mapWaitError(path string, err error) error {
	if errors.Is(err, drive_service.ErrTimedOut) {
		sa.ls.Error(log_service.LogEvent{
			Message:  "Drive operation timed out",
			Metadata: map[string]any{"path": path},
		})
		return ErrTimedOut
	}
	return err
}

func (sa *StorageAccelerator) mapDriveError(path string, err error) error {
	switch {
	case errors.Is(err, drive_service.ErrDriveBusy):
		return ErrBusy
	case errors.Is(err, drive_service.ErrBlockNotFound):
		return ErrNotFound
	default:
		sa.ls.Error(log_service.LogEvent{
			Message:  "Drive I/O error",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return ErrIO
	}
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
