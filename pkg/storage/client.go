package storage

import (
	"io"
	"os"
)

// Client is the subset of an SFTP session the mirror needs. *SFTPConn
// implements it over a real server; storagetest.MemClient in memory.
type Client interface {
	ReadDir(p string) ([]os.FileInfo, error)
	Stat(p string) (os.FileInfo, error)
	Mkdir(p string) error
	Open(p string) (io.ReadCloser, error)
	Create(p string) (io.WriteCloser, error)
	OpenFile(p string, f int) (io.WriteCloser, error)
	Rename(oldname, newname string) error
	Remove(p string) error
	Close() error
}
