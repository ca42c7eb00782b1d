package metadata_service

import (
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/exp/slices"
)

// InMemoryMetadataService keeps the whole catalog in one map under one
// mutex. Get returns a copy, so readers never observe a torn record and
// never need to retain the lock.
type InMemoryMetadataService struct {
	mu    sync.Mutex
	files map[string]FileMetadata
}

func NewInMemoryMetadataService() *InMemoryMetadataService {
	now := time.Now().Unix()
	root := FileMetadata{
		Mode:  syscall.S_IFDIR | 0o755,
		Nlink: 2,
		UID:   uint32(os.Getuid()),
		GID:   uint32(os.Getgid()),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	return &InMemoryMetadataService{
		files: map[string]FileMetadata{"/": root},
	}
}

func (ms *InMemoryMetadataService) Create(path string, metadata FileMetadata) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.files[path]; exists {
		return ErrPathAlreadyExists
	}
	ms.files[path] = metadata
	return nil
}

func (ms *InMemoryMetadataService) Remove(path string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.files[path]; !exists {
		return ErrPathNotFound
	}
	delete(ms.files, path)
	return nil
}

func (ms *InMemoryMetadataService) Get(path string) (FileMetadata, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	metadata, exists := ms.files[path]
	if !exists {
		return FileMetadata{}, ErrPathNotFound
	}
	return metadata, nil
}

func (ms *InMemoryMetadataService) Exists(path string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	_, exists := ms.files[path]
	return exists
}

func (ms *InMemoryMetadataService) Update(path string, fn func(*FileMetadata)) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	metadata, exists := ms.files[path]
	if !exists {
		return ErrPathNotFound
	}
	fn(&metadata)
	ms.files[path] = metadata
	return nil
}

// Rename swaps the record from one path to another atomically. The
// destination must not exist.
func (ms *InMemoryMetadataService) Rename(from, to string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	metadata, exists := ms.files[from]
	if !exists {
		return ErrPathNotFound
	}
	if _, exists := ms.files[to]; exists {
		return ErrPathAlreadyExists
	}
	ms.files[to] = metadata
	delete(ms.files, from)
	return nil
}

// RemoveDirectory removes path if it is an empty directory. The existence,
// kind, emptiness and removal steps all happen under one mutex hold.
func (ms *InMemoryMetadataService) RemoveDirectory(path string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	metadata, exists := ms.files[path]
	if !exists {
		return ErrPathNotFound
	}
	if !metadata.IsDir() {
		return ErrNotADirectory
	}
	if len(ms.listChildrenLocked(path)) > 0 {
		return ErrDirectoryNotEmpty
	}
	delete(ms.files, path)
	return nil
}

// ListDirectory returns the immediate children of path, sorted.
func (ms *InMemoryMetadataService) ListDirectory(path string) []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.listChildrenLocked(path)
}

func (ms *InMemoryMetadataService) listChildrenLocked(path string) []string {
	prefix := path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	seen := make(map[string]struct{})
	for key := range ms.files {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		child := key[len(prefix):]
		if child == "" {
			continue
		}
		if idx := strings.IndexByte(child, '/'); idx >= 0 {
			child = child[:idx]
		}
		seen[child] = struct{}{}
	}

	entries := make([]string, 0, len(seen))
	for child := range seen {
		entries = append(entries, child)
	}
	slices.Sort(entries)
	return entries
}

func (ms *InMemoryMetadataService) Count() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.files)
}
