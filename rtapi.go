package rtapi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/rtapi/internal/clock"
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/flavor"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/config"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/logging"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rtapi/internal/ipc"
	"github.com/GriffinCanCode/rtapi/internal/irq"
	"github.com/GriffinCanCode/rtapi/internal/latency"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/scheduler"
	"github.com/GriffinCanCode/rtapi/internal/shm"
	"github.com/GriffinCanCode/rtapi/internal/shmem"
	"github.com/GriffinCanCode/rtapi/internal/status"
	"github.com/GriffinCanCode/rtapi/internal/watchdog"
)

// Option adjusts how Open builds a runtime.
type Option func(*options)

type options struct {
	logger *logging.Logger
	clock  clock.Clock
	flavor flavor.Backend
	heap   *shm.Heap
	estop  func(TaskID, watchdog.Counts)
}

// WithLogger routes runtime logs to logger instead of one built from config.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces the monotonic clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithFlavor supplies a flavor backend instead of looking one up by name.
func WithFlavor(fl flavor.Backend) Option {
	return func(o *options) { o.flavor = fl }
}

// WithHeap shares a heap backend between runtimes opened in one process.
// It only applies when the configured shm backend is heap.
func WithHeap(h *shm.Heap) Option {
	return func(o *options) { o.heap = h }
}

// WithEStop sets the action taken when the watchdog trips. The default
// pauses the task.
func WithEStop(fn func(TaskID, watchdog.Counts)) Option {
	return func(o *options) { o.estop = fn }
}

// Runtime is one process's handle on the realtime layer.
type Runtime struct {
	cfg    *config.Config
	id     string
	logger *logging.Logger
	bus    *message.Bus

	backend shm.Backend
	reg     *registry.Registry
	flavor  flavor.Backend
	clk     clock.Clock
	rep     *exception.Reporter
	sched   *scheduler.Scheduler
	irqs    *irq.Manager
	sems    *ipc.Sems
	fifos   *ipc.Fifos
	shmem   *shmem.Manager
	metrics *monitoring.Metrics

	watchdog *watchdog.Watchdog
	handler  atomic.Pointer[ExceptionHandler]

	mu      sync.Mutex
	modules map[ModuleID]struct{}
	probe   *latency.Probe
	closed  bool
}

// Open attaches to the registry and builds every subsystem. A nil cfg
// loads configuration from the environment.
func Open(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.LoadOrDefault()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			OutputPaths: []string{"stderr"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	id := uuid.NewString()
	logger = logger.Instance(id)

	level, err := message.ParseLevel(cfg.Runtime.MsgLevel)
	if err != nil {
		return nil, err
	}
	bus := message.NewBus(logger.Component("rtapi"), level)

	fl := o.flavor
	if fl == nil {
		if fl, err = flavor.New(cfg.Runtime.Flavor, bus); err != nil {
			return nil, err
		}
	}

	kind := cfg.Runtime.Shm
	if kind == "" {
		kind = fl.DefaultShm()
	}
	backend, err := shm.New(kind, shm.Options{
		Dir:        cfg.Runtime.ShmDir,
		LockMemory: cfg.Runtime.LockMemory,
		Heap:       o.heap,
	})
	if err != nil {
		return nil, err
	}

	src, err := irq.NewSource(cfg.Runtime.IRQSource, cfg.Runtime.UIOPattern)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Attach(backend, bus, registry.Options{RTCPU: cfg.Runtime.RTCPU})
	if err != nil {
		return nil, err
	}

	clk := o.clock
	if clk == nil {
		clk = clock.NewMonotonic()
	}

	rt := &Runtime{
		cfg:     cfg,
		id:      id,
		logger:  logger,
		bus:     bus,
		backend: backend,
		reg:     reg,
		flavor:  fl,
		clk:     clk,
		rep:     exception.NewReporter(bus, registry.MaxTasks, cfg.Runtime.MaxErrors),
		metrics: monitoring.NewMetrics(),
		modules: make(map[ModuleID]struct{}),
	}
	_ = rt.debugLogs(level)

	// Exit hooks run in creation order: tasks stop before the memory they
	// may touch is unmapped.
	rt.sched = scheduler.New(reg, fl, clk, rt.rep)
	rt.irqs = irq.NewManager(reg, src)
	rt.sems = ipc.NewSems(reg)
	rt.fifos = ipc.NewFifos(reg, backend)
	rt.shmem = shmem.NewManager(reg, backend)

	rt.rep.Observe(func(kind exception.Kind, task TaskID) {
		rt.metrics.RecordException(kind.String(), int(task), kind == exception.DeadlineMissed)
	})
	if cfg.Watchdog.Enabled {
		estop := o.estop
		if estop == nil {
			estop = rt.pauseOnTrip
		}
		rt.watchdog = watchdog.New(watchdog.Settings{
			Threshold: cfg.Watchdog.Threshold,
			EStop:     estop,
		}, rt.forward)
		rt.rep.SetHandler(rt.watchdog.Handle)
	}

	logger.Info("RTAPI runtime opened",
		zap.String("flavor", fl.Name()),
		zap.String("shm", backend.Name()),
		zap.Int("rt_cpu", reg.RTCPU()),
		zap.Bool("watchdog", rt.watchdog != nil),
	)
	return rt, nil
}

// Close stops the latency probe, exits every module registered through
// this runtime and detaches from the registry.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	probe := rt.probe
	rt.probe = nil
	rt.mu.Unlock()

	var errList []error
	if probe != nil {
		errList = append(errList, probe.Stop())
	}

	var g errgroup.Group
	for _, id := range rt.ownModules() {
		g.Go(func() error { return rt.reg.ModuleExit(id) })
	}
	errList = append(errList, g.Wait())

	rt.sched.Close()
	rt.irqs.Close()
	errList = append(errList, rt.reg.Detach())

	rt.logger.Info("RTAPI runtime closed")
	_ = rt.logger.Sync()
	return errors.Join(errList...)
}

func (rt *Runtime) ownModules() []ModuleID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]ModuleID, 0, len(rt.modules))
	for id := range rt.modules {
		ids = append(ids, id)
	}
	return ids
}

// ID identifies this runtime instance in logs and status reports.
func (rt *Runtime) ID() string { return rt.id }

// Config returns the configuration the runtime was opened with.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *logging.Logger { return rt.logger }

// Metrics returns the runtime's Prometheus collectors.
func (rt *Runtime) Metrics() *monitoring.Metrics { return rt.metrics }

// FlavorName names the active scheduling flavor.
func (rt *Runtime) FlavorName() string { return rt.flavor.Name() }

// Report builds the read-only status view.
func (rt *Runtime) Report() Report {
	d := rt.reg.Snapshot()
	return status.Build(&d, rt.sched.Tasks(), status.Meta{
		Instance: rt.id,
		PID:      rt.reg.PID(),
		Flavor:   rt.flavor.Name(),
		Shm:      rt.backend.Name(),
	})
}

// ModuleInit registers a module. An empty name is replaced by a generated
// one.
func (rt *Runtime) ModuleInit(name string, kind ModuleKind) (ModuleID, error) {
	id, err := rt.reg.ModuleInit(name, kind)
	if err != nil {
		return 0, err
	}
	rt.mu.Lock()
	rt.modules[id] = struct{}{}
	rt.mu.Unlock()
	return id, nil
}

// ModuleExit releases a module and everything it still owns.
func (rt *Runtime) ModuleExit(id ModuleID) error {
	rt.mu.Lock()
	delete(rt.modules, id)
	rt.mu.Unlock()
	return rt.reg.ModuleExit(id)
}

// Print writes an unfiltered message.
func (rt *Runtime) Print(format string, args ...any) { rt.bus.Print(format, args...) }

// PrintMsg writes a message if level passes the current filter.
func (rt *Runtime) PrintMsg(level MsgLevel, format string, args ...any) {
	rt.bus.PrintMsg(level, format, args...)
}

// SetMsgLevel changes the message filter. Debug levels also lower the
// logger so the default sink does not drop them.
func (rt *Runtime) SetMsgLevel(level MsgLevel) error {
	if err := rt.bus.SetLevel(level); err != nil {
		return err
	}
	return rt.debugLogs(level)
}

func (rt *Runtime) debugLogs(level MsgLevel) error {
	if level < MsgDbg || rt.logger.Level() <= zapcore.DebugLevel {
		return nil
	}
	return rt.logger.SetLevel("debug")
}

// GetMsgLevel returns the message filter.
func (rt *Runtime) GetMsgLevel() MsgLevel { return rt.bus.Level() }

// SetMessageHandler replaces the message sink. Nil restores the logger sink.
func (rt *Runtime) SetMessageHandler(h MessageHandler) { rt.bus.SetHandler(h) }

// SetExceptionHandler installs h for scheduling anomalies. Nil restores the
// default handler, which logs with backoff. The handler runs on the task's
// thread and must not block or allocate.
func (rt *Runtime) SetExceptionHandler(h ExceptionHandler) {
	if rt.watchdog == nil {
		rt.rep.SetHandler(h)
		return
	}
	if h == nil {
		rt.handler.Store(nil)
		return
	}
	rt.handler.Store(&h)
}

// forward hands reports that passed the watchdog to the user handler.
func (rt *Runtime) forward(kind ExceptionKind, task TaskID, detail ExceptionDetail, st *ThreadStatus) {
	if h := rt.handler.Load(); h != nil {
		(*h)(kind, task, detail, st)
		return
	}
	rt.rep.Default(kind, task, detail, st)
}

func (rt *Runtime) pauseOnTrip(task TaskID, counts watchdog.Counts) {
	rt.bus.Errorf("RTAPI: ERROR: watchdog tripped on task %02d after %d late cycles, pausing", task, counts.Consecutive)
	if err := rt.sched.TaskPause(task); err != nil {
		rt.bus.Errorf("RTAPI: ERROR: watchdog could not pause task %02d: %v", task, err)
	}
}

// Watchdog returns the deadline watchdog, or nil when it is disabled.
func (rt *Runtime) Watchdog() *watchdog.Watchdog { return rt.watchdog }

// TaskStatus returns the statistics of a task.
func (rt *Runtime) TaskStatus(id TaskID) (Status, bool) { return rt.sched.Status(id) }

// StartLatencyProbe starts the jitter probe configured under Latency.
func (rt *Runtime) StartLatencyProbe() (*latency.Probe, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, ErrNotInitialized
	}
	if rt.probe != nil {
		return nil, fmt.Errorf("latency probe: %w", ErrAlreadySet)
	}
	p, err := latency.Start(rt.reg, rt.shmem, rt.sched, latency.Options{
		Key:     rt.cfg.Latency.Key,
		Period:  rt.cfg.Latency.Period,
		Samples: rt.cfg.Latency.Samples,
	})
	if err != nil {
		return nil, err
	}
	rt.probe = p
	return p, nil
}

// StopLatencyProbe stops the probe started by StartLatencyProbe.
func (rt *Runtime) StopLatencyProbe() error {
	rt.mu.Lock()
	p := rt.probe
	rt.probe = nil
	rt.mu.Unlock()
	if p == nil {
		return fmt.Errorf("latency probe: %w", ErrInvalidHandle)
	}
	return p.Stop()
}

// ReadLatency reads the samples of a probe running in any process attached
// to the same registry. module must be a module of this process.
func (rt *Runtime) ReadLatency(module ModuleID) ([]int64, error) {
	id, err := rt.shmem.New(rt.cfg.Latency.Key, module, 1)
	if err != nil {
		return nil, err
	}
	defer rt.shmem.Delete(id, module)
	buf, err := rt.shmem.GetPtr(id)
	if err != nil {
		return nil, err
	}
	return latency.Read(buf)
}
