package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/oscomp/gokernel/pkg/bootconfig"
	"github.com/oscomp/gokernel/pkg/sentry/fsimpl/allocfs"
	"github.com/oscomp/gokernel/pkg/sentry/fsimpl/devfs"
	"github.com/oscomp/gokernel/pkg/sentry/kernel"
	"github.com/oscomp/gokernel/pkg/sentry/loader"
	"github.com/oscomp/gokernel/pkg/sentry/mm"
	"github.com/oscomp/gokernel/pkg/sentry/platform/software"
	"github.com/oscomp/gokernel/pkg/sentry/syscalls"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// framesPerBoot sizes the software arena generously for a single init
// task's code/heap/stack; a real platform's frame allocator has no such
// fixed ceiling (spec §1).
const framesPerBoot = 1 << 16 // 256 MiB at 4 KiB pages

type bootCommand struct {
	configPath   string
	restorePath  string
	snapshotPath string
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "boot the kernel against a TOML config and exec init" }
func (*bootCommand) Usage() string {
	return "boot [-config path.toml] [-restore path] [-snapshot path]\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to boot configuration TOML (defaults built in if omitted)")
	f.StringVar(&c.restorePath, "restore", "", "restore AllocFS's root from a prior checkpoint before resolving init")
	f.StringVar(&c.snapshotPath, "snapshot", "", "write an AllocFS checkpoint of the root filesystem after a successful boot")
}

func (c *bootCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg := bootconfig.Default()
	if c.configPath != "" {
		loaded, err := bootconfig.Load(c.configPath)
		if err != nil {
			logrus.WithError(err).Error("gokernel: failed to load boot configuration")
			return subcommands.ExitFailure
		}
		cfg = loaded
	}

	root, mount := newMount(cfg)
	if c.restorePath != "" {
		if err := root.Restore(c.restorePath); err != nil {
			logrus.WithError(err).WithField("path", c.restorePath).Error("gokernel: failed to restore AllocFS checkpoint")
			return subcommands.ExitFailure
		}
	}
	arena := software.NewArena(framesPerBoot)
	env := &syscalls.Env{
		Alloc:  arena,
		Memory: arena,
		Loader: &loader.Loader{Alloc: arena, Memory: arena, FS: mount},
		NewPageTable: func() mm.PageTable {
			return software.NewPageTable()
		},
	}

	task := kernel.NewTask(software.NewPageTable(), nil, &vfs.File{Path: vfs.RootPathBuf()}, nil)

	// boot may race a concurrent population of / (e.g. an initramfs
	// unpack on another goroutine); retry resolving init a few times
	// before giving up (SPEC_FULL §B cenkalti/backoff wiring).
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	err := backoff.Retry(func() error {
		_, e := mount.OpenLink(vfs.ParsePathBuf(cfg.Init.Path), vfs.ORdOnly)
		if e != 0 {
			return fmt.Errorf("open %s: errno %d", cfg.Init.Path, e)
		}
		return nil
	}, b)
	if err != nil {
		logrus.WithError(err).WithField("path", cfg.Init.Path).Error("gokernel: init executable never became available")
		return subcommands.ExitFailure
	}

	e := env.Loader.ExecWithProcess(task, vfs.RootPathBuf(), cfg.Init.Path, cfg.Init.Argv, cfg.Init.Envp)
	if e != 0 {
		logrus.WithField("errno", e).Error("gokernel: execve of init failed")
		return subcommands.ExitFailure
	}
	kernel.InitTask.InitBy(task)

	if c.snapshotPath != "" {
		if err := root.Snapshot(c.snapshotPath); err != nil {
			logrus.WithError(err).WithField("path", c.snapshotPath).Error("gokernel: failed to write AllocFS checkpoint")
			return subcommands.ExitFailure
		}
	}

	var entry, sp uintptr
	task.WithTCB(func(tcb *kernel.ThreadControlBlock) { sp = tcb.Frame.SP })
	task.PCB.Lock()
	entry = task.PCB.Entry
	task.PCB.Unlock()
	fmt.Printf("gokernel: booted, entry=%#x sp=%#x\n", entry, sp)
	return subcommands.ExitSuccess
}

func newMount(cfg *bootconfig.Config) (*allocfs.AllocFS, *vfs.Mount) {
	root := allocfs.New()
	dev := devfs.New()
	for _, d := range cfg.Devices {
		if inode := deviceByKind(d.Kind); inode != nil {
			dev.Register(d.Name, inode)
		}
	}
	return root, &vfs.Mount{Root: root.RootDir(), DevRoot: dev.RootDir()}
}

func deviceByKind(kind string) vfs.Inode {
	switch kind {
	case "tty":
		return devfs.NewTty()
	case "null":
		return devfs.NewNull()
	case "zero":
		return devfs.NewZero()
	case "urandom":
		return devfs.NewUrandom()
	case "rtc":
		return devfs.NewRtc()
	case "shm":
		return devfs.NewShm()
	default:
		logrus.WithField("kind", kind).Warn("gokernel: unknown device kind in boot config, skipping")
		return nil
	}
}
