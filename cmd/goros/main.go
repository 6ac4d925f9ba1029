// Command goros boots the kernel on a hosted machine: a file-backed
// root disk, the process's terminal as the console UART, and one
// goroutine per hart.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"goros/dev"
	"goros/kernel"
	"goros/task"
	"goros/ustr"
)

type config struct {
	Disk    string `mapstructure:"disk"`
	Harts   int    `mapstructure:"harts"`
	MemMiB  int    `mapstructure:"mem-mib"`
	Init    string `mapstructure:"init"`
	LogFile string `mapstructure:"log-file"`
	Verbose bool   `mapstructure:"verbose"`
}

// hostmachine implements the hardware surface: idling parks the hart
// goroutine briefly, timer deadlines are kept for the hart loop.
type hostmachine struct {
	timers []time.Time
}

func (m *hostmachine) Wfi(hartid int) {
	time.Sleep(time.Millisecond)
}

func (m *hostmachine) Settimer(hartid int, deadline int64) {
	if hartid < len(m.timers) {
		m.timers[hartid] = time.Unix(0, deadline)
	}
}

func (m *hostmachine) Raise(hartid int) {}

func newLogger(cfg *config) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    16,
			MaxBackups: 4,
		})
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadConfig(cmd *cobra.Command) (*config, error) {
	v := viper.New()
	v.SetDefault("harts", 1)
	v.SetDefault("mem-mib", 64)
	v.SetDefault("init", "/bin/init")
	var flags *pflag.FlagSet = cmd.Flags()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	if cfgfile, _ := cmd.Flags().GetString("config"); cfgfile != "" {
		v.SetConfigFile(cfgfile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var cfg config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.Disk == "" {
		return fmt.Errorf("a root disk image is required (--disk)")
	}
	disk, err := dev.Openfiledisk(cfg.Disk)
	if err != nil {
		return fmt.Errorf("opening disk image: %w", err)
	}
	defer disk.Close()
	console := dev.Mkuart(os.Stdout)
	machine := &hostmachine{timers: make([]time.Time, cfg.Harts)}
	k, kerr := kernel.Boot(kernel.Bootcfg_t{
		Pages:   cfg.MemMiB << 8,
		Harts:   cfg.Harts,
		Disk:    disk,
		Console: console,
		Clock:   timeutil.RealClock(),
		Machine: machine,
	})
	if kerr != 0 {
		return fmt.Errorf("kernel boot failed: %v", kerr)
	}
	logger.Info("kernel booted", "harts", cfg.Harts, "mem_mib", cfg.MemMiB)
	if _, ierr := k.Mkinit(ustr.Ustr(cfg.Init), []ustr.Ustr{ustr.Ustr(cfg.Init)}); ierr != 0 {
		logger.Warn("no init process started", "path", cfg.Init, "err", ierr.String())
	}
	ctx := cmd.Context()
	grp, ctx := errgroup.WithContext(ctx)
	for _, h := range k.Harts {
		grp.Go(func() error { return hartloop(ctx, k, h, logger) })
	}
	return grp.Wait()
}

// hartloop is the hosted stand-in for a hart's trap-and-run cycle.
// User frames cannot execute on the host, so a frame handed back by the
// scheduler terminates its task with a diagnostic.
func hartloop(ctx context.Context, k *kernel.Kernel_t, h *task.Hart_t, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if msg := task.Ipi.Receive(h.Id); msg == task.IpiPanic {
			return fmt.Errorf("hart %d: panic requested", h.Id)
		}
		frame := k.Enter(h)
		if frame == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		logger.Debug("user frame scheduled without a cpu", "pc", frame.Pc)
		if t := h.Current(); t != nil {
			t.Lock()
			t.Sched.State = task.Terminated
			t.Unlock()
		}
	}
}

func main() {
	root := &cobra.Command{
		Use:   "goros",
		Short: "boot the kernel on a hosted machine",
		RunE:  run,
		SilenceUsage: true,
	}
	root.Flags().String("config", "", "optional YAML config file")
	root.Flags().String("disk", "", "root disk image")
	root.Flags().Int("harts", 1, "number of harts")
	root.Flags().Int("mem-mib", 64, "physical memory in MiB")
	root.Flags().String("init", "/bin/init", "init program path")
	root.Flags().String("log-file", "", "rotating host log file")
	root.Flags().Bool("verbose", false, "debug logging")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
