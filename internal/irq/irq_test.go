package irq

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/rtapi/internal/infrastructure/logging"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
	"github.com/GriffinCanCode/rtapi/internal/shm"
)

func newManager(t *testing.T) (*Manager, *Soft, *registry.Registry, types.ModuleID) {
	t.Helper()
	reg, err := registry.Attach(shm.NewHeap(), message.NewBus(logging.NewNop(), message.Info), registry.Options{})
	require.NoError(t, err)
	soft := NewSoft()
	m := NewManager(reg, soft)
	mod, err := reg.ModuleInit("irq", types.KernelResident)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		_ = reg.Detach()
	})
	return m, soft, reg, mod
}

func TestSoftInterruptDelivery(t *testing.T) {
	m, soft, _, mod := newManager(t)

	var got atomic.Uint32
	require.NoError(t, m.New(7, mod, func(irq int, count uint32) {
		assert.Equal(t, 7, irq)
		got.Store(count)
	}))

	require.NoError(t, soft.Raise(7))
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, got.Load(), "disabled lines drop events")

	require.NoError(t, m.Enable(7))
	require.NoError(t, soft.Raise(7))
	assert.Eventually(t, func() bool { return got.Load() == 2 }, 2*time.Second, time.Millisecond)

	require.NoError(t, m.Disable(7))
	require.NoError(t, m.Delete(7))
	assert.ErrorIs(t, soft.Raise(7), errs.ErrInvalidHandle)
	assert.ErrorIs(t, m.Delete(7), errs.ErrInvalidHandle)
}

func TestInterruptClaimRules(t *testing.T) {
	m, _, reg, mod := newManager(t)
	h := func(int, uint32) {}

	assert.ErrorIs(t, m.New(0, mod, h), errs.ErrOutOfRange)
	assert.ErrorIs(t, m.New(256, mod, h), errs.ErrOutOfRange)
	assert.ErrorIs(t, m.New(3, mod, nil), errs.ErrOutOfRange)
	assert.ErrorIs(t, m.New(3, mod+1, h), errs.ErrInvalidHandle)

	require.NoError(t, m.New(3, mod, h))
	assert.ErrorIs(t, m.New(3, mod, h), errs.ErrAlreadySet)
	assert.ErrorIs(t, m.Enable(4), errs.ErrInvalidHandle)

	require.NoError(t, reg.ModuleExit(mod))
	assert.ErrorIs(t, m.Enable(3), errs.ErrInvalidHandle)
	assert.Zero(t, reg.Snapshot().Header.IRQCount)
}

func TestUIOLineReadsEventCount(t *testing.T) {
	dir := t.TempDir()
	// A regular file stands in for the device: reads return the stored count.
	path := filepath.Join(dir, "uio5")
	require.NoError(t, os.WriteFile(path, binary.NativeEndian.AppendUint32(nil, 3), 0o600))

	src, err := NewSource(KindUIO, filepath.Join(dir, "uio%d"))
	require.NoError(t, err)
	line, err := src.Open(5)
	require.NoError(t, err)
	defer line.Close()

	count, err := line.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), count)

	_, err = src.Open(6)
	assert.Error(t, err)

	_, err = NewSource("pci", "")
	assert.ErrorIs(t, err, errs.ErrUnsupported)
}
