package flavor

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/logging"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

func backends(t *testing.T) []Backend {
	t.Helper()
	bus := message.NewBus(logging.NewNop(), message.Info)
	var out []Backend
	for _, name := range Names() {
		b, err := New(name, bus)
		require.NoError(t, err)
		assert.Equal(t, name, b.Name())
		out = append(out, b)
	}
	return out
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{KernelName, PosixName, UspaceName}, Names())

	_, err := New("rtlinux", nil)
	assert.ErrorIs(t, err, errs.ErrUnsupported)
}

func TestNextHigherRoundTrip(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			p := b.PrioLowest()
			steps := b.PrioLowest() - b.PrioHighest()
			if steps < 0 {
				steps = -steps
			}
			for k := 0; k < steps+10; k++ {
				next := NextHigher(b, p)
				require.True(t, InRange(b, next))
				require.False(t, Higher(b, p, next), "step %d went down", k)
				if k < steps {
					require.True(t, Higher(b, next, p), "step %d did not move", k)
				}
				p = next
			}
			assert.Equal(t, b.PrioHighest(), p)
		})
	}
}

func TestNextLowerRoundTrip(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			p := b.PrioHighest()
			for k := 0; k < 5000; k++ {
				next := NextLower(b, p)
				require.True(t, InRange(b, next))
				require.False(t, Higher(b, next, p))
				p = next
			}
			assert.Equal(t, b.PrioLowest(), p)
		})
	}
}

func TestClampOutOfRange(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			// One step past each end, in the flavor's own direction.
			beyondBest := b.PrioHighest() + 1
			beyondWorst := b.PrioLowest() - 1
			if b.PrioHighest() < b.PrioLowest() {
				beyondBest = b.PrioHighest() - 1
				beyondWorst = b.PrioLowest() + 1
			}
			assert.False(t, InRange(b, beyondBest))
			assert.False(t, InRange(b, beyondWorst))
			assert.Equal(t, b.PrioHighest(), NextHigher(b, beyondBest))
			assert.Equal(t, b.PrioLowest(), NextHigher(b, beyondWorst))
			assert.Equal(t, b.PrioLowest(), NextLower(b, beyondWorst))
			assert.Equal(t, b.PrioHighest(), NextLower(b, beyondBest))
		})
	}
}

func TestFlavorTraits(t *testing.T) {
	bus := message.NewBus(logging.NewNop(), message.Info)

	k, err := New(KernelName, bus)
	require.NoError(t, err)
	assert.True(t, k.SupportsResume())
	assert.Equal(t, 0, k.PrioHighest())
	assert.Equal(t, 0xFFF, k.PrioLowest())
	assert.Equal(t, exception.TagKernel, k.Tag())

	u, err := New(UspaceName, bus)
	require.NoError(t, err)
	assert.False(t, u.SupportsResume())
	assert.True(t, Higher(u, 50, 49))
	assert.True(t, Higher(k, 49, 50))
}

func TestPosixEnterAndSample(t *testing.T) {
	b, err := New(PosixName, message.NewBus(logging.NewNop(), message.Info))
	require.NoError(t, err)

	done := make(chan struct{})
	var st exception.ThreadStatus
	st.Reset(b.Tag())
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		assert.NoError(t, b.Enter(Thread{Prio: 50, CPU: -1}))
		b.Sample(&st)
	}()
	<-done

	_, ok := st.Flavor().(exception.PosixStats)
	assert.True(t, ok)
}
