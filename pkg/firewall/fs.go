package firewall

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

type IFileSystem interface {
	Append(filename string, content string) error
}

// FileSystem appends to files on disk, creating the parent directory on demand.
type FileSystem struct {
	mutex sync.Mutex
}

func (f *FileSystem) Append(filename string, content string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filename)
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", filename)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return errors.Wrapf(err, "failed to append to %s", filename)
	}
	return nil
}
