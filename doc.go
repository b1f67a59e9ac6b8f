// Package rtapi is a portable realtime abstraction layer.
//
// A Runtime attaches to the shared resource registry and offers one set of
// primitives on top of a scheduling flavor chosen at Open: modules, periodic
// tasks, shared memory segments, timing, message dispatch, exception
// reporting, and the supplementary semaphores, FIFOs and interrupt lines.
//
// A module registers, requests shared memory, creates and starts periodic
// tasks whose bodies loop on Wait, and releases what it owns on shutdown.
// ModuleExit force-releases anything a module left behind.
//
//	rt, err := rtapi.Open(config.LoadOrDefault())
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//
//	mod, _ := rt.ModuleInit("servo", rtapi.KernelResident)
//	period, _ := rt.ClockSetPeriod(1_000_000)
//	task, _ := rt.TaskNew(func(ctx context.Context, _ any) {
//		for {
//			// one control cycle
//			rt.Wait(ctx)
//		}
//	}, nil, rt.PrioHighest(), mod, 0, false)
//	_ = rt.TaskStart(task, period)
//
// Scheduling anomalies never come back as errors; they are delivered to the
// exception handler installed with SetExceptionHandler.
package rtapi
