package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/disk"
)

// Config configures a RecordStore.
type Config struct { // A
	// Path is the badger directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps every record in memory. Used by tests.
	InMemory bool
	// MinimumFreeSpace is the free disk space, in GB, required to open.
	MinimumFreeSpace uint64
	Logger           *slog.Logger
}

func (c *Config) check() error { // A
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.InMemory {
		return nil
	}
	if c.Path == "" {
		return errors.New("no path provided in configuration")
	}
	if err := os.MkdirAll(c.Path, 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	info, err := os.Stat(c.Path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}
	if c.MinimumFreeSpace == 0 {
		return nil
	}

	usage, err := disk.Usage(c.Path)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", c.Path, err)
	}
	freeGB := usage.Free / (1024 * 1024 * 1024)
	if freeGB < c.MinimumFreeSpace {
		return fmt.Errorf(
			"not enough space available on disk: %d GB free, %d GB required",
			freeGB, c.MinimumFreeSpace,
		)
	}
	return nil
}
