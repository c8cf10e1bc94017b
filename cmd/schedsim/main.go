// Command schedsim boots a small in-process hypervisor scheduler and
// host-IRQ dispatcher, runs it for a configurable duration with a
// handful of synthetic guest VCPUs and a console device IRQ, and prints
// per-CPU idle/IRQ sampling stats on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/vhostsched/internal/irq"
	"github.com/tinyrange/vhostsched/internal/sched"
	"github.com/tinyrange/vhostsched/internal/sched/simarch"
	"github.com/tinyrange/vhostsched/internal/timeslice"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	cpuCount := fs.Int("cpus", 2, "number of simulated host CPUs")
	guestCount := fs.Int("guests", 3, "number of synthetic guest VCPUs per CPU")
	runFor := fs.Duration("duration", 3*time.Second, "how long to run before reporting stats and exiting")
	verbose := fs.Bool("v", false, "enable debug-level logging")
	timesliceOut := fs.String("timeslice-out", "", "if set, record per-state vcpu timeslices to this file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *timesliceOut != "" {
		closer, err := timeslice.OpenFile(*timesliceOut)
		if err != nil {
			fmt.Fprintf(os.Stderr, "schedsim: open timeslice output: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()
	}

	if err := run(*cpuCount, *guestCount, *runFor); err != nil {
		fmt.Fprintf(os.Stderr, "schedsim: %v\n", err)
		os.Exit(1)
	}
}

func run(cpuCount, guestCount int, runFor time.Duration) error {
	arch := simarch.New()
	mgr := sched.NewManager(sched.Config{
		Arch:     arch,
		CPUCount: cpuCount,
	})

	for h := 0; h < cpuCount; h++ {
		if _, err := mgr.InitCPU(sched.HCPU(h)); err != nil {
			return fmt.Errorf("init hcpu %d: %w", h, err)
		}
	}

	host := irq.New(cpuCount, func(cpu int) int { return irq.NoMoreIRQ })
	if err := host.Init(); err != nil {
		return fmt.Errorf("irq init: %w", err)
	}
	if err := wireConsoleIRQ(host); err != nil {
		return fmt.Errorf("wire console irq: %w", err)
	}

	guestID := mgr.CreateGuest("schedsim-guest")
	for h := 0; h < cpuCount; h++ {
		for i := 0; i < guestCount; i++ {
			priority := sched.MinPriority + 1 + (i % (sched.MaxPriority - sched.MinPriority))
			name := fmt.Sprintf("vcpu/%d/%d", h, i)
			v, err := mgr.CreateGuestVCPU(guestID, name, priority, sched.AffinityOf(sched.HCPU(h)))
			if err != nil {
				return fmt.Errorf("create vcpu %s: %w", name, err)
			}
			if err := v.StateChange(sched.StateReset, nil); err != nil {
				return fmt.Errorf("reset vcpu %s: %w", name, err)
			}
			if err := mgr.Kick(v); err != nil {
				return fmt.Errorf("kick vcpu %s: %w", name, err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, runFor)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				host.Raise(consoleIRQ, 1)
				host.GenericExec(consoleIRQ, 0)
			}
		}
	})

	<-ctx.Done()
	_ = g.Wait()

	for h := 0; h < cpuCount; h++ {
		s := mgr.Sample(sched.HCPU(h))
		slog.Info("sample window", "hcpu", h, "idle_ns", s.IdleNS, "irq_ns", s.IRQNS)
	}
	return nil
}

const consoleIRQ = 1

// wireConsoleIRQ registers a single level-triggered IRQ with a software
// chip that fires on Raise, standing in for a console/virtio-style
// device whose interrupt line a real host platform would wire up
// through the devicetree match table.
func wireConsoleIRQ(host *irq.Host) error {
	var asserted bool
	chip := &irq.Chip{
		Mask:   func(*irq.HostIRQ) {},
		Ack:    func(*irq.HostIRQ) {},
		Unmask: func(*irq.HostIRQ) {},
		Raise:  func(*irq.HostIRQ, uint64) { asserted = true },
	}
	if err := host.SetChip(consoleIRQ, chip); err != nil {
		return err
	}
	if err := host.SetType(consoleIRQ, irq.TriggerLevelHigh); err != nil {
		return err
	}
	if err := host.SetHandler(consoleIRQ, irq.LevelHandler); err != nil {
		return err
	}
	return host.Register(consoleIRQ, 0, func(num, cpu int, dev any) irq.Result {
		if !asserted {
			return irq.None
		}
		asserted = false
		slog.Debug("console irq fired", "cpu", cpu)
		return irq.Handled
	}, "console")
}
