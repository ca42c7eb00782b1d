package metadata_service

import (
	"errors"
	"syscall"
	"testing"
	"time"
)

func fileRecord(size int64) FileMetadata {
	now := time.Now().Unix()
	return FileMetadata{
		Mode:  syscall.S_IFREG | 0o644,
		Nlink: 1,
		Size:  size,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func dirRecord() FileMetadata {
	now := time.Now().Unix()
	return FileMetadata{
		Mode:  syscall.S_IFDIR | 0o755,
		Nlink: 2,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func TestInMemoryMetadataService_Root(t *testing.T) {
	ms := NewInMemoryMetadataService()

	root, err := ms.Get("/")
	if err != nil {
		t.Fatalf("Get(/) error = %v", err)
	}
	if !root.IsDir() {
		t.Errorf("root is not a directory, mode = %o", root.Mode)
	}
	if root.Mode&0o777 != 0o755 {
		t.Errorf("root permissions = %o, want 755", root.Mode&0o777)
	}
	if root.Nlink != 2 {
		t.Errorf("root nlink = %d, want 2", root.Nlink)
	}
	if root.Size != 0 {
		t.Errorf("root size = %d, want 0", root.Size)
	}
}

func TestInMemoryMetadataService_Create(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
		setupFn func(*InMemoryMetadataService)
	}{
		{
			name: "create new file",
			path: "/test/file.txt",
		},
		{
			name:    "create duplicate path",
			path:    "/test/duplicate.txt",
			wantErr: ErrPathAlreadyExists,
			setupFn: func(ms *InMemoryMetadataService) {
				_ = ms.Create("/test/duplicate.txt", fileRecord(50))
			},
		},
		{
			name:    "create over root",
			path:    "/",
			wantErr: ErrPathAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := NewInMemoryMetadataService()
			if tt.setupFn != nil {
				tt.setupFn(ms)
			}

			err := ms.Create(tt.path, fileRecord(100))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
				return
			}
			if tt.wantErr == nil && !ms.Exists(tt.path) {
				t.Errorf("Create() path %q not found afterwards", tt.path)
			}
		})
	}
}

func TestInMemoryMetadataService_GetReturnsCopy(t *testing.T) {
	ms := NewInMemoryMetadataService()
	_ = ms.Create("/f", fileRecord(10))

	first, _ := ms.Get("/f")
	first.Size = 9999

	second, _ := ms.Get("/f")
	if second.Size != 10 {
		t.Errorf("mutating a returned record changed the catalog: size = %d", second.Size)
	}
}

func TestInMemoryMetadataService_Update(t *testing.T) {
	ms := NewInMemoryMetadataService()
	_ = ms.Create("/f", fileRecord(10))

	err := ms.Update("/f", func(m *FileMetadata) {
		m.Size = 42
		m.Mtime = 1234
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	metadata, _ := ms.Get("/f")
	if metadata.Size != 42 || metadata.Mtime != 1234 {
		t.Errorf("Update() not applied: size=%d mtime=%d", metadata.Size, metadata.Mtime)
	}

	if err := ms.Update("/absent", func(m *FileMetadata) {}); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("Update(absent) error = %v, want ErrPathNotFound", err)
	}
}

func TestInMemoryMetadataService_Remove(t *testing.T) {
	ms := NewInMemoryMetadataService()
	_ = ms.Create("/f", fileRecord(10))

	if err := ms.Remove("/f"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ms.Exists("/f") {
		t.Error("path still present after Remove()")
	}
	if err := ms.Remove("/f"); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("second Remove() error = %v, want ErrPathNotFound", err)
	}
}

func TestInMemoryMetadataService_Rename(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr error
		setupFn func(*InMemoryMetadataService)
	}{
		{
			name: "rename file",
			from: "/a",
			to:   "/b",
			setupFn: func(ms *InMemoryMetadataService) {
				_ = ms.Create("/a", fileRecord(10))
			},
		},
		{
			name:    "source missing",
			from:    "/missing",
			to:      "/b",
			wantErr: ErrPathNotFound,
		},
		{
			name:    "destination occupied",
			from:    "/a",
			to:      "/b",
			wantErr: ErrPathAlreadyExists,
			setupFn: func(ms *InMemoryMetadataService) {
				_ = ms.Create("/a", fileRecord(10))
				_ = ms.Create("/b", fileRecord(20))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := NewInMemoryMetadataService()
			if tt.setupFn != nil {
				tt.setupFn(ms)
			}

			err := ms.Rename(tt.from, tt.to)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Rename() error = %v, want %v", err, tt.wantErr)
				return
			}
			if tt.wantErr == nil {
				if ms.Exists(tt.from) {
					t.Error("source still present after Rename()")
				}
				if !ms.Exists(tt.to) {
					t.Error("destination absent after Rename()")
				}
			}
		})
	}
}

func TestInMemoryMetadataService_RemoveDirectory(t *testing.T) {
	ms := NewInMemoryMetadataService()
	_ = ms.Create("/d", dirRecord())
	_ = ms.Create("/d/f", fileRecord(1))
	_ = ms.Create("/plain", fileRecord(2))

	if err := ms.RemoveDirectory("/missing"); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("RemoveDirectory(missing) error = %v, want ErrPathNotFound", err)
	}
	if err := ms.RemoveDirectory("/plain"); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("RemoveDirectory(file) error = %v, want ErrNotADirectory", err)
	}
	if err := ms.RemoveDirectory("/d"); !errors.Is(err, ErrDirectoryNotEmpty) {
		t.Errorf("RemoveDirectory(non-empty) error = %v, want ErrDirectoryNotEmpty", err)
	}
	if !ms.Exists("/d") {
		t.Error("failed RemoveDirectory removed the directory anyway")
	}

	_ = ms.Remove("/d/f")
	if err := ms.RemoveDirectory("/d"); err != nil {
		t.Errorf("RemoveDirectory(empty) error = %v", err)
	}
	if ms.Exists("/d") {
		t.Error("directory still present after successful RemoveDirectory")
	}
}

func TestInMemoryMetadataService_ListDirectory(t *testing.T) {
	ms := NewInMemoryMetadataService()
	_ = ms.Create("/d", dirRecord())
	_ = ms.Create("/d/one", fileRecord(1))
	_ = ms.Create("/d/two", fileRecord(2))
	_ = ms.Create("/d/sub", dirRecord())
	_ = ms.Create("/d/sub/deep", fileRecord(3))
	_ = ms.Create("/other", fileRecord(4))

	entries := ms.ListDirectory("/d")
	want := []string{"one", "sub", "two"}
	if len(entries) != len(want) {
		t.Fatalf("ListDirectory(/d) = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("ListDirectory(/d)[%d] = %q, want %q", i, entries[i], want[i])
		}
	}

	rootEntries := ms.ListDirectory("/")
	wantRoot := []string{"d", "other"}
	if len(rootEntries) != len(wantRoot) {
		t.Fatalf("ListDirectory(/) = %v, want %v", rootEntries, wantRoot)
	}

	if entries := ms.ListDirectory("/empty"); len(entries) != 0 {
		t.Errorf("ListDirectory(/empty) = %v, want empty", entries)
	}
}
