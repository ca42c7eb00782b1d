package fuse_service

import (
	"time"

	"github.com/AnishMulay/flashfs/internal/log_service"
	"github.com/AnishMulay/flashfs/internal/storage_service"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Server owns the kernel connection for one mounted accelerator.
type Server struct {
	server *fuse.Server
	ls     log_service.LogService
}

// Mount attaches the accelerator at mountpoint and starts serving kernel
// requests in the background.
func Mount(mountpoint string, storage storage_service.StorageService, ls log_service.LogService, debug bool) (*Server, error) {
	root := newRootNode(storage, ls)

	// Attribute caching is kept short: the catalog is the authority and
	// every data operation goes through the accelerator anyway.
	attrTimeout := time.Second
	entryTimeout := time.Second

	server, err := fs.Mount(mountpoint, root, &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: fuse.MountOptions{
			Name:   "flashfs",
			FsName: "flashfs",
			Debug:  debug,
		},
	})
	if err != nil {
		return nil, err
	}

	ls.Info(log_service.LogEvent{
		Message:  "Mounted filesystem",
		Metadata: map[string]any{"mountpoint": mountpoint},
	})
	return &Server{server: server, ls: ls}, nil
}

// Serve blocks until the filesystem is unmounted.
func (s *Server) Serve() {
	s.server.Wait()
}

func (s *Server) WaitMount() error {
	return s.server.WaitMount()
}

func (s *Server) Unmount() error {
	s.ls.Info(log_service.LogEvent{Message: "Unmounting filesystem"})
	return s.server.Unmount()
}
