package message

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/rtapi/internal/infrastructure/logging"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

type captured struct {
	mu   sync.Mutex
	msgs []string
	lvls []Level
}

func (c *captured) handle(level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lvls = append(c.lvls, level)
	c.msgs = append(c.msgs, msg)
}

func TestPrintMsgFiltersByLevel(t *testing.T) {
	bus := NewBus(logging.NewNop(), Warn)
	c := &captured{}
	bus.SetHandler(c.handle)

	bus.Errorf("RTAPI: error %d", 1)
	bus.Warnf("RTAPI: warn")
	bus.Infof("RTAPI: info")
	bus.Debugf("RTAPI: debug")

	assert.Equal(t, []string{"RTAPI: error 1", "RTAPI: warn"}, c.msgs)
	assert.Equal(t, []Level{Err, Warn}, c.lvls)
}

func TestPrintBypassesFilter(t *testing.T) {
	bus := NewBus(logging.NewNop(), None)
	c := &captured{}
	bus.SetHandler(c.handle)

	bus.Errorf("dropped")
	bus.Print("always %s", "shown")

	require.Len(t, c.msgs, 1)
	assert.Equal(t, "always shown", c.msgs[0])
	assert.Equal(t, All, c.lvls[0])
}

func TestPrintReachesInfoLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	bus := NewBus(logging.Wrap(zap.New(core)), Info)

	bus.Print("operator visible %d", 1)
	bus.Debugf("filtered")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "operator visible 1", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
}

func TestSetLevelRange(t *testing.T) {
	bus := NewBus(nil, Info)

	assert.NoError(t, bus.SetLevel(Dbg))
	assert.Equal(t, Dbg, bus.Level())

	err := bus.SetLevel(All + 1)
	assert.True(t, errors.Is(err, errs.ErrOutOfRange))
	assert.Equal(t, Dbg, bus.Level())
}

func TestNilHandlerRestoresDefault(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := NewBus(logging.Wrap(zap.New(core)), All)

	c := &captured{}
	bus.SetHandler(c.handle)
	bus.Infof("to custom")
	bus.SetHandler(nil)
	bus.Warnf("to zap %d", 7)

	assert.Len(t, c.msgs, 1)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "to zap 7", entry.Message)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, Dbg, l)

	_, err = ParseLevel("verbose")
	assert.True(t, errors.Is(err, errs.ErrOutOfRange))
}
