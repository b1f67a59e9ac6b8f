package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/rtapi"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/config"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/server"
	"github.com/GriffinCanCode/rtapi/internal/latency"
)

const usage = `usage: rtapid <command> [flags]

commands:
  run       attach, serve the status API and wait for a signal
  latency   measure scheduling jitter
  show      print the registry
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCmd(ctx, args)
	case "latency":
		err = latencyCmd(ctx, args, os.Stdout)
	case "show":
		err = showCmd(args, os.Stdout)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "rtapid: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtapid: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags binds the flags shared by every command to cfg.
func commonFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Runtime.Flavor, "flavor", cfg.Runtime.Flavor, "scheduling flavor (kernel, uspace, posix)")
	fs.StringVar(&cfg.Runtime.Shm, "shm", cfg.Runtime.Shm, "shared memory backend (posix, sysv, heap)")
	fs.StringVar(&cfg.Runtime.MsgLevel, "msg-level", cfg.Runtime.MsgLevel, "message level (none, err, warn, info, dbg, all)")
	fs.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "development logging")
}

func parse(name string, args []string, bind func(*flag.FlagSet, *config.Config)) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	commonFlags(fs, cfg)
	if bind != nil {
		bind(fs, cfg)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCmd(ctx context.Context, args []string) error {
	var probe bool
	cfg, err := parse("run", args, func(fs *flag.FlagSet, cfg *config.Config) {
		fs.BoolVar(&probe, "probe", false, "run the latency probe")
		fs.StringVar(&cfg.Status.Addr, "addr", cfg.Status.Addr, "status API listen address")
	})
	if err != nil {
		return err
	}
	return run(ctx, cfg, probe)
}

func run(ctx context.Context, cfg *config.Config, probe bool) error {
	rt, err := rtapi.Open(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.Logger()

	logger.Info("rtapid starting",
		zap.String("version", server.Version),
		zap.Bool("status", cfg.Status.Enabled),
		zap.Bool("probe", probe),
	)

	if probe {
		if _, err := rt.StartLatencyProbe(); err != nil {
			return fmt.Errorf("start latency probe: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Status.Enabled {
		srv := server.NewServer(cfg, rt, rt.Metrics(), logger)
		g.Go(func() error { return srv.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")
		return nil
	})
	return g.Wait()
}

func latencyCmd(ctx context.Context, args []string, out io.Writer) error {
	var (
		d      time.Duration
		attach bool
		asJSON bool
	)
	cfg, err := parse("latency", args, func(fs *flag.FlagSet, cfg *config.Config) {
		fs.DurationVar(&d, "d", 5*time.Second, "measurement time")
		fs.BoolVar(&attach, "attach", false, "read the probe of another process instead of starting one")
		fs.BoolVar(&asJSON, "json", false, "print the summary as JSON")
		fs.Int64Var(&cfg.Latency.Period, "period", cfg.Latency.Period, "probe period in nanoseconds")
	})
	if err != nil {
		return err
	}

	rt, err := rtapi.Open(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	var sum latency.Summary
	if attach {
		viewer, err := rt.ModuleInit("latency-viewer", rtapi.UserSpace)
		if err != nil {
			return err
		}
		samples, err := rt.ReadLatency(viewer)
		if err != nil {
			return fmt.Errorf("read latency probe: %w", err)
		}
		sum = latency.Summarize(samples)
	} else {
		p, err := rt.StartLatencyProbe()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
		sum = p.Summary()
	}

	if asJSON {
		return writeJSON(out, sum)
	}
	_, err = fmt.Fprintln(out, sum.String())
	return err
}

func showCmd(args []string, out io.Writer) error {
	var asJSON bool
	cfg, err := parse("show", args, func(fs *flag.FlagSet, cfg *config.Config) {
		fs.BoolVar(&asJSON, "json", false, "print JSON")
	})
	if err != nil {
		return err
	}
	cfg.Logging.Level = "error"

	rt, err := rtapi.Open(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	report := rt.Report()
	if asJSON {
		return writeJSON(out, report)
	}
	return writeReport(out, report)
}

func writeJSON(out io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	data = append(data, '\n')
	_, err = out.Write(data)
	return err
}

func writeReport(out io.Writer, r rtapi.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "RTAPI registry (%s flavor, %s shm, %d attached)\n", r.Flavor, r.Shm, r.Attached)
	if r.Clock.Running {
		fmt.Fprintf(w, "clock: %d ns period, rt cpu %d\n", r.Clock.PeriodNs, r.Clock.RTCPU)
	} else {
		fmt.Fprintln(w, "clock: stopped")
	}

	fmt.Fprintln(w, "\nMODULE\tNAME\tKIND\tPID")
	for _, m := range r.Modules {
		fmt.Fprintf(w, "%02d\t%s\t%s\t%d\n", m.ID, m.Name, m.Kind, m.PID)
	}
	fmt.Fprintln(w, "\nSHMEM\tKEY\tSIZE\tRT\tUL")
	for _, s := range r.Shmems {
		fmt.Fprintf(w, "%02d\t%#08x\t%d\t%d\t%d\n", s.ID, s.Key, s.Size, s.RTUsers, s.ULUsers)
	}
	fmt.Fprintln(w, "\nSEM\tKEY\tUSERS")
	for _, s := range r.Sems {
		fmt.Fprintf(w, "%02d\t%d\t%d\n", s.ID, s.Key, s.Users)
	}
	fmt.Fprintln(w, "\nFIFO\tKEY\tSIZE\tREADER\tWRITER")
	for _, f := range r.Fifos {
		fmt.Fprintf(w, "%02d\t%d\t%d\t%d\t%d\n", f.ID, f.Key, f.Size, f.Reader, f.Writer)
	}
	fmt.Fprintln(w, "\nIRQ\tOWNER")
	for _, i := range r.IRQs {
		fmt.Fprintf(w, "%d\t%02d\n", i.IRQ, i.Owner)
	}
	return w.Flush()
}
