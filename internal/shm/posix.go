package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// Posix maps files from a tmpfs directory, the same objects shm_open would
// hand out when the directory is /dev/shm.
type Posix struct {
	dir  string
	lock bool
}

// NewPosix creates a posix backend rooted at dir.
func NewPosix(dir string, lockMemory bool) *Posix {
	if dir == "" {
		dir = DefaultDir
	}
	return &Posix{dir: dir, lock: lockMemory}
}

func (p *Posix) Name() string { return KindPosix }

// Path returns the file that backs key.
func (p *Posix) Path(key int) string {
	return filepath.Join(p.dir, fmt.Sprintf("rtapi-%08x", uint32(key)))
}

func (p *Posix) Map(key, size int, create bool) (*Mapping, error) {
	flags := os.O_RDWR
	if create {
		// O_TRUNC discards whatever a crashed owner left behind.
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(p.Path(key), flags, 0o600)
	if err != nil {
		if IsNotExist(err) {
			return nil, err
		}
		return nil, errs.Allocation(err, "")
	}
	defer f.Close()

	if create {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, errs.Allocation(err, "")
		}
	} else {
		st, err := f.Stat()
		if err != nil {
			return nil, errs.Allocation(err, "")
		}
		if st.Size() < int64(size) {
			return nil, fmt.Errorf("posix object %#x holds %d bytes, need %d: %w", key, st.Size(), size, errs.ErrSizeMismatch)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errs.Allocation(err, "")
	}
	if p.lock {
		if err := lock(data); err != nil {
			_ = unix.Munmap(data)
			return nil, err
		}
	}

	return &Mapping{
		Key:  key,
		Data: data,
		release: func() error {
			if p.lock {
				unlock(data)
			}
			return unix.Munmap(data)
		},
	}, nil
}

func (p *Posix) Unmap(m *Mapping) error {
	if m == nil || m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.Data = nil
	return err
}

func (p *Posix) Destroy(key int) error {
	return os.Remove(p.Path(key))
}
