package shm

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// SysV uses System V shared memory, which is addressed by the integer key
// directly and so needs no naming scheme.
type SysV struct {
	lock bool
}

// NewSysV creates a System V backend.
func NewSysV(lockMemory bool) *SysV {
	return &SysV{lock: lockMemory}
}

func (s *SysV) Name() string { return KindSysV }

func (s *SysV) Map(key, size int, create bool) (*Mapping, error) {
	flags := 0o600
	if create {
		flags |= unix.IPC_CREAT
	}
	id, err := unix.SysvShmGet(key, size, flags)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("sysv segment %#x: %w", key, fs.ErrNotExist)
		}
		if errors.Is(err, unix.EINVAL) {
			return nil, fmt.Errorf("sysv segment %#x smaller than %d bytes: %w", key, size, errs.ErrSizeMismatch)
		}
		return nil, errs.Allocation(err, "check kernel.shmmax and kernel.shmall")
	}

	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, errs.Allocation(err, "")
	}
	data = data[:size:size]
	if s.lock {
		if err := lock(data); err != nil {
			_ = unix.SysvShmDetach(data)
			return nil, err
		}
	}

	return &Mapping{
		Key:  key,
		Data: data,
		release: func() error {
			if s.lock {
				unlock(data)
			}
			return unix.SysvShmDetach(data)
		},
	}, nil
}

func (s *SysV) Unmap(m *Mapping) error {
	if m == nil || m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.Data = nil
	return err
}

func (s *SysV) Destroy(key int) error {
	id, err := unix.SysvShmGet(key, 0, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("sysv segment %#x: %w", key, fs.ErrNotExist)
		}
		return err
	}
	_, err = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}
