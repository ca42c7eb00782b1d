package storage_service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"syscall"
	"testing"

	"github.com/AnishMulay/flashfs/internal/log_service"
	"github.com/AnishMulay/flashfs/internal/placement_service"
	"github.com/stretchr/testify/require"
)

const (
	testDrives = 16
	testSeed   = "default_seed"
)

func newTestAccelerator(t *testing.T) *StorageAccelerator {
	t.Helper()
	ls := log_service.NewLogrusLogService(log_service.NewLogrusLogger(io.Discard, false), "AcceleratorTest")
	sa := NewStorageAccelerator(testDrives, testSeed, ls)
	t.Cleanup(func() { _ = sa.Close() })
	return sa
}

func TestBasicFileOperations(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/test.txt", 0o644))

	n, err := sa.WriteFile(ctx, "/test.txt", []byte("Hello, World!"), 0)
	require.NoError(t, err)
	require.Equal(t, 13, n)

	buf := make([]byte, 13)
	n, err = sa.ReadFile(ctx, "/test.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, []byte("Hello, World!"), buf)

	require.NoError(t, sa.DeleteFile(ctx, "/test.txt"))

	_, err = sa.GetMetadata(ctx, "/test.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateFile_Exists(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/dup", 0o644))
	require.ErrorIs(t, sa.CreateFile(ctx, "/dup", 0o600), ErrExists)
}

func TestCreateFile_ModeAndKind(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/m", 0o640))

	metadata, err := sa.GetMetadata(ctx, "/m")
	require.NoError(t, err)
	require.True(t, metadata.IsRegular())
	require.Equal(t, uint32(0o640), metadata.Mode&0o777)
	require.Equal(t, uint32(1), metadata.Nlink)
	require.Equal(t, int64(0), metadata.Size)
}

func TestDirectoryLifecycle(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateDirectory(ctx, "/d", 0o755))

	metadata, err := sa.GetMetadata(ctx, "/d")
	require.NoError(t, err)
	require.True(t, metadata.IsDir())
	require.Equal(t, uint32(0o755), metadata.Mode&0o777)
	require.Equal(t, uint32(2), metadata.Nlink)

	require.NoError(t, sa.CreateFile(ctx, "/d/f", 0o644))

	entries, err := sa.ListDirectory(ctx, "/d")
	require.NoError(t, err)
	require.Equal(t, []string{"f"}, entries)

	require.ErrorIs(t, sa.RemoveDirectory(ctx, "/d"), ErrNotEmpty)
	require.NoError(t, sa.DeleteFile(ctx, "/d/f"))
	require.NoError(t, sa.RemoveDirectory(ctx, "/d"))

	_, err = sa.GetMetadata(ctx, "/d")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveDirectory_KindChecks(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.ErrorIs(t, sa.RemoveDirectory(ctx, "/nope"), ErrNotFound)

	require.NoError(t, sa.CreateFile(ctx, "/plain", 0o644))
	require.ErrorIs(t, sa.RemoveDirectory(ctx, "/plain"), ErrNotDirectory)
}

func TestDeleteFile_IsDirectory(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateDirectory(ctx, "/d", 0o755))
	require.ErrorIs(t, sa.DeleteFile(ctx, "/d"), ErrIsDirectory)
	require.ErrorIs(t, sa.DeleteFile(ctx, "/absent"), ErrNotFound)
}

func TestChmodChownUtimens(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/f", 0o644))

	require.NoError(t, sa.Chmod(ctx, "/f", 0o600))
	metadata, err := sa.GetMetadata(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, uint32(0o600), metadata.Mode&0o7777)
	require.True(t, metadata.IsRegular(), "chmod must preserve the kind bits")

	require.NoError(t, sa.Chown(ctx, "/f", 12, 34))
	metadata, err = sa.GetMetadata(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, uint32(12), metadata.UID)
	require.Equal(t, uint32(34), metadata.GID)

	require.NoError(t, sa.Utimens(ctx, "/f", 111, 222))
	metadata, err = sa.GetMetadata(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, int64(111), metadata.Atime)
	require.Equal(t, int64(222), metadata.Mtime)

	require.ErrorIs(t, sa.Chmod(ctx, "/nope", 0o600), ErrNotFound)
	require.ErrorIs(t, sa.Chown(ctx, "/nope", 1, 1), ErrNotFound)
	require.ErrorIs(t, sa.Utimens(ctx, "/nope", 1, 1), ErrNotFound)
}

func TestWriteRead_RoundTripAtOffsets(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/rt", 0o644))

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	for _, offset := range []int64{0, 1, 4095, 4096, 8191} {
		n, err := sa.WriteFile(ctx, "/rt", payload, offset)
		require.NoError(t, err, "offset %d", offset)
		require.Equal(t, len(payload), n, "offset %d", offset)

		buf := make([]byte, len(payload))
		n, err = sa.ReadFile(ctx, "/rt", buf, offset)
		require.NoError(t, err, "offset %d", offset)
		require.Equal(t, len(payload), n, "offset %d", offset)
		require.True(t, bytes.Equal(payload, buf), "offset %d", offset)
	}
}

func TestWriteRead_SparseImage(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/sparse", 0o644))

	// Non-overlapping writes at scattered offsets; the read image must be
	// exactly the writes with zeros in the gaps.
	writes := map[int64][]byte{
		100:   []byte("alpha"),
		5000:  []byte("beta"),
		12000: []byte("gamma"),
	}
	var end int64
	for offset, data := range writes {
		n, err := sa.WriteFile(ctx, "/sparse", data, offset)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		if offset+int64(len(data)) > end {
			end = offset + int64(len(data))
		}
	}

	want := make([]byte, end)
	for offset, data := range writes {
		copy(want[offset:], data)
	}

	buf := make([]byte, end)
	n, err := sa.ReadFile(ctx, "/sparse", buf, 0)
	require.NoError(t, err)
	require.Equal(t, int(end), n)
	require.True(t, bytes.Equal(want, buf))
}

func TestReadFile_Clamping(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/clamp", 0o644))
	_, err := sa.WriteFile(ctx, "/clamp", []byte("abcdef"), 0)
	require.NoError(t, err)

	// Read beyond EOF returns zero bytes.
	buf := make([]byte, 4)
	n, err := sa.ReadFile(ctx, "/clamp", buf, 100)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// Read across EOF is clamped.
	buf = make([]byte, 10)
	n, err = sa.ReadFile(ctx, "/clamp", buf, 2)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("cdef"), buf[:n])

	_, err = sa.ReadFile(ctx, "/missing", buf, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParallelAccess(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	const writers = 4
	for i := 0; i < writers; i++ {
		require.NoError(t, sa.CreateFile(ctx, fmt.Sprintf("/test%d", i), 0o644))
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(id)))
			path := fmt.Sprintf("/test%d", id)
			for op := 0; op < 100; op++ {
				payload := []byte(fmt.Sprintf("%d", rng.Intn(10000)))
				n, err := sa.WriteFile(ctx, path, payload, 0)
				if err != nil {
					errs <- fmt.Errorf("write %s: %w", path, err)
					return
				}
				if n != len(payload) {
					errs <- fmt.Errorf("write %s: n = %d, want %d", path, n, len(payload))
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < writers; i++ {
		require.NoError(t, sa.DeleteFile(ctx, fmt.Sprintf("/test%d", i)))
	}

	// Every start/record pair must have balanced out.
	for i, load := range sa.DriveLoads() {
		require.Equal(t, int64(0), load.PendingOps, "drive %d", i)
	}
}

func TestTruncateSemantics(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateFile(ctx, "/t", 0o644))
	_, err := sa.WriteFile(ctx, "/t", []byte("abcdef"), 0)
	require.NoError(t, err)

	require.NoError(t, sa.TruncateFile(ctx, "/t", 3))

	buf := make([]byte, 6)
	n, err := sa.ReadFile(ctx, "/t", buf, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("abc"), buf[:n])

	require.NoError(t, sa.TruncateFile(ctx, "/t", 5))

	buf = make([]byte, 5)
	n, err = sa.ReadFile(ctx, "/t", buf, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte{'a', 'b', 'c', 0, 0}, buf)

	metadata, err := sa.GetMetadata(ctx, "/t")
	require.NoError(t, err)
	require.Equal(t, int64(5), metadata.Size)

	require.ErrorIs(t, sa.TruncateFile(ctx, "/missing", 0), ErrNotFound)

	require.NoError(t, sa.CreateDirectory(ctx, "/td", 0o755))
	require.ErrorIs(t, sa.TruncateFile(ctx, "/td", 0), ErrIsDirectory)
}

func TestCrossDriveRename(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	// Pick a source/destination pair whose first blocks place on different
	// drives, so the rename really crosses a placement boundary.
	placer := placement_service.NewCityHashPlacer(testSeed, testDrives)
	from, to := "", ""
	for i := 0; i < 1000 && from == ""; i++ {
		a := fmt.Sprintf("/rename-src-%d", i)
		b := fmt.Sprintf("/rename-dst-%d", i)
		if placer.PlaceBlock(a, 0) != placer.PlaceBlock(b, 0) {
			from, to = a, b
		}
	}
	require.NotEmpty(t, from, "no cross-drive path pair found")

	pattern := make([]byte, 8192)
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}

	require.NoError(t, sa.CreateFile(ctx, from, 0o644))
	n, err := sa.WriteFile(ctx, from, pattern, 0)
	require.NoError(t, err)
	require.Equal(t, len(pattern), n)

	require.NoError(t, sa.RenameFile(ctx, from, to, 0))

	_, err = sa.GetMetadata(ctx, from)
	require.ErrorIs(t, err, ErrNotFound)

	metadata, err := sa.GetMetadata(ctx, to)
	require.NoError(t, err)
	require.Equal(t, int64(8192), metadata.Size)

	buf := make([]byte, 8192)
	n, err = sa.ReadFile(ctx, to, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 8192, n)
	require.True(t, bytes.Equal(pattern, buf))
}

func TestRenameFile_Errors(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.ErrorIs(t, sa.RenameFile(ctx, "/nope", "/dst", 0), ErrNotFound)

	require.NoError(t, sa.CreateFile(ctx, "/a", 0o644))
	require.NoError(t, sa.CreateFile(ctx, "/b", 0o644))
	require.ErrorIs(t, sa.RenameFile(ctx, "/a", "/b", 0), ErrExists)
}

func TestRenameDirectory(t *testing.T) {
	sa := newTestAccelerator(t)
	ctx := context.Background()

	require.NoError(t, sa.CreateDirectory(ctx, "/dir", 0o755))
	require.NoError(t, sa.RenameFile(ctx, "/dir", "/moved", 0))

	metadata, err := sa.GetMetadata(ctx, "/moved")
	require.NoError(t, err)
	require.True(t, metadata.IsDir())
}

func TestRootMetadata(t *testing.T) {
	sa := newTestAccelerator(t)

	metadata, err := sa.GetMetadata(context.Background(), "/")
	require.NoError(t, err)
	require.True(t, metadata.IsDir())
	require.Equal(t, uint32(syscall.S_IFDIR|0o755), metadata.Mode)
	require.Equal(t, uint32(2), metadata.Nlink)
}
