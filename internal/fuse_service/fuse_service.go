package fuse_service

import (
	"context"
	"errors"
	"syscall"

	"github.com/AnishMulay/flashfs/internal/log_service"
	"github.com/AnishMulay/flashfs/internal/metadata_service"
	"github.com/AnishMulay/flashfs/internal/storage_service"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// bridge is the state shared by every node of one mount.
type bridge struct {
	storage storage_service.StorageService
	ls      log_service.LogService
}

// Node maps one catalog path onto the kernel's inode tree. All semantics
// live behind the StorageService; the node only marshals arguments and
// translates errors.
type Node struct {
	fs.Inode
	bridge *bridge
	path   string
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
)

func newRootNode(storage storage_service.StorageService, ls log_service.LogService) *Node {
	return &Node{
		bridge: &bridge{storage: storage, ls: ls},
		path:   "/",
	}
}

func (n *Node) childPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func (n *Node) newChild(ctx context.Context, path string, metadata metadata_service.FileMetadata) *fs.Inode {
	child := &Node{bridge: n.bridge, path: path}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: metadata.Mode & syscall.S_IFMT})
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.childPath(name)
	metadata, err := n.bridge.storage.GetMetadata(ctx, path)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, metadata)
	return n.newChild(ctx, path, metadata), 0
}

func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	// The root is projected without consulting the catalog.
	if n.path == "/" {
		out.Mode = syscall.S_IFDIR | 0o755
		out.Nlink = 2
		return 0
	}

	metadata, err := n.bridge.storage.GetMetadata(ctx, n.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, metadata)
	return 0
}

func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if mode, ok := in.GetMode(); ok {
		if err := n.bridge.storage.Chmod(ctx, n.path, mode); err != nil {
			return toErrno(err)
		}
	}

	uid, uidOK := in.GetUID()
	gid, gidOK := in.GetGID()
	if uidOK || gidOK {
		metadata, err := n.bridge.storage.GetMetadata(ctx, n.path)
		if err != nil {
			return toErrno(err)
		}
		if !uidOK {
			uid = metadata.UID
		}
		if !gidOK {
			gid = metadata.GID
		}
		if err := n.bridge.storage.Chown(ctx, n.path, uid, gid); err != nil {
			return toErrno(err)
		}
	}

	if size, ok := in.GetSize(); ok {
		if err := n.bridge.storage.TruncateFile(ctx, n.path, int64(size)); err != nil {
			return toErrno(err)
		}
	}

	atime, atimeOK := in.GetATime()
	mtime, mtimeOK := in.GetMTime()
	if atimeOK || mtimeOK {
		metadata, err := n.bridge.storage.GetMetadata(ctx, n.path)
		if err != nil {
			return toErrno(err)
		}
		atimeSec := metadata.Atime
		mtimeSec := metadata.Mtime
		if atimeOK {
			atimeSec = atime.Unix()
		}
		if mtimeOK {
			mtimeSec = mtime.Unix()
		}
		if err := n.bridge.storage.Utimens(ctx, n.path, atimeSec, mtimeSec); err != nil {
			return toErrno(err)
		}
	}

	return n.Getattr(ctx, fh, out)
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.bridge.storage.ListDirectory(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		mode := uint32(syscall.S_IFREG)
		if metadata, err := n.bridge.storage.GetMetadata(ctx, n.childPath(child)); err == nil {
			mode = metadata.Mode & syscall.S_IFMT
		}
		entries = append(entries, fuse.DirEntry{Name: child, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if _, err := n.bridge.storage.GetMetadata(ctx, n.path); err != nil {
		return nil, 0, toErrno(err)
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	path := n.childPath(name)
	if err := n.bridge.storage.CreateFile(ctx, path, mode); err != nil {
		return nil, nil, 0, toErrno(err)
	}

	metadata, err := n.bridge.storage.GetMetadata(ctx, path)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	fillAttr(&out.Attr, metadata)
	return n.newChild(ctx, path, metadata), nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.childPath(name)
	if err := n.bridge.storage.CreateDirectory(ctx, path, mode); err != nil {
		return nil, toErrno(err)
	}

	metadata, err := n.bridge.storage.GetMetadata(ctx, path)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, metadata)
	return n.newChild(ctx, path, metadata), 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.bridge.storage.DeleteFile(ctx, n.childPath(name)))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.bridge.storage.RemoveDirectory(ctx, n.childPath(name)))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	return toErrno(n.bridge.storage.RenameFile(ctx, n.childPath(name), target.childPath(newName), flags))
}

func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	read, err := n.bridge.storage.ReadFile(ctx, n.path, dest, off)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:read]), 0
}

func (n *Node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.bridge.storage.WriteFile(ctx, n.path, data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(written), 0
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = 4096
	out.NameLen = 255
	return 0
}

func fillAttr(out *fuse.Attr, metadata metadata_service.FileMetadata) {
	out.Mode = metadata.Mode
	out.Nlink = metadata.Nlink
	out.Size = uint64(metadata.Size)
	out.Atime = uint64(metadata.Atime)
	out.Mtime = uint64(metadata.Mtime)
	out.Ctime = uint64(metadata.Ctime)
	out.Owner.Uid = metadata.UID
	out.Owner.Gid = metadata.GID
}

func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, storage_service.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, storage_service.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, storage_service.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, storage_service.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, storage_service.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, storage_service.ErrBusy):
		return syscall.EBUSY
	case errors.Is(err, storage_service.ErrTimedOut):
		return syscall.ETIMEDOUT
	default:
		return syscall.EIO
	}
}
