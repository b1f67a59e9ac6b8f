package shmem

import (
	"path/filepath"
	"syscall"
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

type fixture struct {
	reg  *registry.Registry
	heap *shm.Heap
	mgr  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	heap := shm.NewHeap()
	reg, err := registry.Attach(heap, message.NewBus(logging.NewNop(), message.Info), registry.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Detach() })
	return &fixture{reg: reg, heap: heap, mgr: NewManager(reg, heap)}
}

func (f *fixture) module(t *testing.T, kind types.ModuleKind) types.ModuleID {
	t.Helper()
	id, err := f.reg.ModuleInit("", kind)
	require.NoError(t, err)
	return id
}

func TestSharedKeyScenario(t *testing.T) {
	f := newFixture(t)
	mod1 := f.module(t, types.UserSpace)
	mod2 := f.module(t, types.UserSpace)

	first, err := f.mgr.New(0x1234, mod1, 4096)
	require.NoError(t, err)
	assert.Equal(t, types.ShmemID(1), first)

	second, err := f.mgr.New(0x1234, mod2, 4096)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := f.mgr.Info(first)
	require.NoError(t, err)
	assert.Equal(t, []types.ModuleID{mod1, mod2}, info.Holders)
	assert.Equal(t, 2, info.ULUsers)
	assert.Equal(t, 0, info.RTUsers)

	require.NoError(t, f.mgr.Delete(first, mod1))
	info, err = f.mgr.Info(first)
	require.NoError(t, err)
	assert.Equal(t, []types.ModuleID{mod2}, info.Holders)
	buf, err := f.mgr.GetPtr(first)
	require.NoError(t, err)
	assert.Len(t, buf, 4096)

	require.NoError(t, f.mgr.Delete(first, mod2))
	_, err = f.mgr.GetPtr(first)
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)
	_, err = f.mgr.Info(first)
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)
	assert.Equal(t, 1, f.heap.Len(), "only the registry block remains")
}

func TestAttachSharesAddressWithoutZeroing(t *testing.T) {
	f := newFixture(t)
	a := f.module(t, types.UserSpace)
	b := f.module(t, types.KernelResident)

	id, err := f.mgr.New(0x42, a, 256)
	require.NoError(t, err)
	buf, err := f.mgr.GetPtr(id)
	require.NoError(t, err)
	buf[0], buf[255] = 0xAA, 0x55

	again, err := f.mgr.New(0x42, b, 128)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	view, err := f.mgr.GetPtr(again)
	require.NoError(t, err)
	assert.Same(t, &buf[0], &view[0])
	assert.Equal(t, byte(0xAA), view[0])
	assert.Equal(t, byte(0x55), view[255])

	info, err := f.mgr.Info(id)
	require.NoError(t, err)
	assert.Equal(t, 1, info.RTUsers)
	assert.Equal(t, 1, info.ULUsers)
	assert.Equal(t, 256, info.Size)
}

func TestCreationZeroFills(t *testing.T) {
	f := newFixture(t)
	mod := f.module(t, types.UserSpace)

	// Leave stale bytes behind in the backing object.
	stale, err := f.heap.Map(0x77, 64, true)
	require.NoError(t, err)
	for i := range stale.Data {
		stale.Data[i] = 0xFF
	}

	id, err := f.mgr.New(0x77, mod, 64)
	require.NoError(t, err)
	buf, err := f.mgr.GetPtr(id)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), buf)
}

func TestLargerSizeRejected(t *testing.T) {
	f := newFixture(t)
	a := f.module(t, types.UserSpace)
	b := f.module(t, types.UserSpace)

	_, err := f.mgr.New(0x99, a, 1024)
	require.NoError(t, err)

	_, err = f.mgr.New(0x99, b, 2048)
	assert.ErrorIs(t, err, errs.ErrSizeMismatch)

	_, err = f.mgr.New(0x99, a, 512)
	assert.ErrorIs(t, err, errs.ErrAlreadyMapped)
}

func TestRefCountingAcrossManyHolders(t *testing.T) {
	f := newFixture(t)
	const n = 5
	mods := make([]types.ModuleID, n)
	for i := range mods {
		mods[i] = f.module(t, types.UserSpace)
	}

	var id types.ShmemID
	for i, mod := range mods {
		got, err := f.mgr.New(0x500, mod, 64)
		require.NoError(t, err)
		if i == 0 {
			id = got
		}
		assert.Equal(t, id, got)
	}

	for _, mod := range mods[:n-1] {
		require.NoError(t, f.mgr.Delete(id, mod))
		_, err := f.mgr.GetPtr(id)
		require.NoError(t, err)
	}

	require.NoError(t, f.mgr.Delete(id, mods[n-1]))
	_, err := f.mgr.GetPtr(id)
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)
}

func TestDeleteRequiresHolder(t *testing.T) {
	f := newFixture(t)
	a := f.module(t, types.UserSpace)
	b := f.module(t, types.UserSpace)

	id, err := f.mgr.New(0x10, a, 32)
	require.NoError(t, err)

	assert.ErrorIs(t, f.mgr.Delete(id, b), errs.ErrInvalidHandle)
	assert.ErrorIs(t, f.mgr.Delete(id+1, a), errs.ErrInvalidHandle)
	require.NoError(t, f.mgr.Delete(id, a))
	assert.ErrorIs(t, f.mgr.Delete(id, a), errs.ErrInvalidHandle)
}

func TestNewValidatesArguments(t *testing.T) {
	f := newFixture(t)
	mod := f.module(t, types.UserSpace)

	_, err := f.mgr.New(0, mod, 64)
	assert.ErrorIs(t, err, errs.ErrOutOfRange)
	_, err = f.mgr.New(registry.Key, mod, 64)
	assert.ErrorIs(t, err, errs.ErrOutOfRange)
	_, err = f.mgr.New(0x20, mod, 0)
	assert.ErrorIs(t, err, errs.ErrOutOfRange)
	_, err = f.mgr.New(0x20, mod+10, 64)
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)
}

func TestOutOfSlots(t *testing.T) {
	f := newFixture(t)
	mod := f.module(t, types.UserSpace)

	for k := 1; k <= registry.MaxShmems; k++ {
		_, err := f.mgr.New(k, mod, 8)
		require.NoError(t, err)
	}
	_, err := f.mgr.New(registry.MaxShmems+1, mod, 8)
	assert.ErrorIs(t, err, errs.ErrOutOfSlots)
}

func TestModuleExitReleasesSegments(t *testing.T) {
	f := newFixture(t)
	keep := f.module(t, types.UserSpace)
	leaky := f.module(t, types.UserSpace)

	shared, err := f.mgr.New(0x1, keep, 16)
	require.NoError(t, err)
	_, err = f.mgr.New(0x1, leaky, 16)
	require.NoError(t, err)
	private, err := f.mgr.New(0x2, leaky, 16)
	require.NoError(t, err)

	require.NoError(t, f.reg.ModuleExit(leaky))

	info, err := f.mgr.Info(shared)
	require.NoError(t, err)
	assert.Equal(t, []types.ModuleID{keep}, info.Holders)
	_, err = f.mgr.GetPtr(private)
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)
}

// failingBackend refuses to map, either always or only on attach.
type failingBackend struct {
	*shm.Heap
	onlyAttach bool
	err        error
}

func (b *failingBackend) Map(key, size int, create bool) (*shm.Mapping, error) {
	if create && b.onlyAttach {
		return b.Heap.Map(key, size, create)
	}
	return nil, b.err
}

func TestMapFailureRestoresSlot(t *testing.T) {
	f := newFixture(t)
	mod := f.module(t, types.UserSpace)
	mgr := NewManager(f.reg, shm.NewPosix(filepath.Join(t.TempDir(), "missing"), false))

	_, err := mgr.New(0x30, mod, 64)
	require.ErrorIs(t, err, errs.ErrAllocationFailed)
	var opErr *errs.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Zero(t, opErr.ID, "a failed create names no slot")

	snap := f.reg.Snapshot()
	assert.Zero(t, snap.Header.ShmemCount)
	for n := 1; n <= registry.MaxShmems; n++ {
		assert.False(t, snap.Live(registry.Shmems, n), "slot %d", n)
	}

	id, err := f.mgr.New(0x30, mod, 64)
	require.NoError(t, err, "key is free again")
	assert.Equal(t, types.ShmemID(1), id)
}

func TestMapFailureKeepsMemlockHint(t *testing.T) {
	f := newFixture(t)
	mod := f.module(t, types.KernelResident)
	mgr := NewManager(f.reg, &failingBackend{
		Heap: f.heap,
		err:  errs.Allocation(syscall.EPERM, "mlock refused: raise RLIMIT_MEMLOCK (ulimit -l) or grant CAP_IPC_LOCK"),
	})

	_, err := mgr.New(0x31, mod, 64)
	require.ErrorIs(t, err, errs.ErrAllocationFailed)
	assert.ErrorIs(t, err, syscall.EPERM)
	assert.Contains(t, err.Error(), "RLIMIT_MEMLOCK")
	assert.Zero(t, f.reg.Snapshot().Header.ShmemCount)
}

func TestAttachFailureLeavesOtherHolders(t *testing.T) {
	f := newFixture(t)
	user := f.module(t, types.UserSpace)
	rt := f.module(t, types.KernelResident)
	mgr := NewManager(f.reg, &failingBackend{Heap: f.heap, onlyAttach: true, err: syscall.ENOMEM})

	id, err := mgr.New(0x32, user, 64)
	require.NoError(t, err)

	_, err = mgr.New(0x32, rt, 64)
	require.ErrorIs(t, err, errs.ErrAllocationFailed)
	var opErr *errs.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, int(id), opErr.ID)

	info, err := mgr.Info(id)
	require.NoError(t, err)
	assert.Equal(t, []types.ModuleID{user}, info.Holders)
	assert.Zero(t, info.RTUsers)
	assert.Equal(t, 1, info.ULUsers)
}

func TestNewWaitsForPendingSegment(t *testing.T) {
	f := newFixture(t)
	a := f.module(t, types.UserSpace)
	b := f.module(t, types.UserSpace)

	id, err := f.mgr.New(0x33, a, 32)
	require.NoError(t, err)
	require.NoError(t, f.reg.With(func(d *registry.Data) error {
		d.Shmems[id].Pending = 1
		return nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := NewManager(f.reg, f.heap).New(0x33, b, 32)
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("attached to a pending segment: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, f.reg.With(func(d *registry.Data) error {
		d.Shmems[id].Pending = 0
		return nil
	}))
	require.NoError(t, <-done)

	info, err := f.mgr.Info(id)
	require.NoError(t, err)
	assert.Equal(t, 2, info.ULUsers)
}
