package sfvfs

import (
	"github.com/sirupsen/logrus"
	"github.com/welvet/sf-vfs/backend/file"
)

// HardMaxBlocks is the design-fixed ceiling on the number of logical
// addresses a single container may ever hand out (spec.md §3).
const HardMaxBlocks = 4 * 1024 * 1024

// Defaults, documented per SPEC_FULL.md §10.
const (
	DefaultBlockSize                       = 1024
	DefaultFreeGroupsCacheSize             = 16
	DefaultFreeLogicalAddressCacheSize     = 64
	DefaultMaxBlocks                       = HardMaxBlocks
	DefaultMaxNameLen                      = 64
	DefaultDirectoryMinSizeToBecomeIndexed = 16
	DefaultMode                            = file.ModeReadWrite
)

type config struct {
	blockSize                       int
	freeGroupsCacheSize             int
	freeLogicalAddressCacheSize     int
	maxBlocks                       int
	maxNameLen                      int
	directoryMinSizeToBecomeIndexed int
	mode                            file.Mode
	logger                          *logrus.Logger
}

func defaultConfig() *config {
	return &config{
		blockSize:                       DefaultBlockSize,
		freeGroupsCacheSize:             DefaultFreeGroupsCacheSize,
		freeLogicalAddressCacheSize:     DefaultFreeLogicalAddressCacheSize,
		maxBlocks:                       DefaultMaxBlocks,
		maxNameLen:                      DefaultMaxNameLen,
		directoryMinSizeToBecomeIndexed: DefaultDirectoryMinSizeToBecomeIndexed,
		mode:                            DefaultMode,
		logger:                          logrus.StandardLogger(),
	}
}

// Option configures a BlockStore at Open/Create time.
type Option func(*config)

// WithBlockSize sets the block size; must be a positive power of two.
func WithBlockSize(n int) Option {
	return func(c *config) { c.blockSize = n }
}

// WithFreeGroupsCacheSize bounds the in-memory cache of groups known to have free blocks.
func WithFreeGroupsCacheSize(n int) Option {
	return func(c *config) { c.freeGroupsCacheSize = n }
}

// WithFreeLogicalAddressCacheSize bounds the in-memory queue of known-free logical addresses.
func WithFreeLogicalAddressCacheSize(n int) Option {
	return func(c *config) { c.freeLogicalAddressCacheSize = n }
}

// WithMaxBlocks sets the maximum number of logical addresses the container may ever allocate.
func WithMaxBlocks(n int) Option {
	return func(c *config) { c.maxBlocks = n }
}

// WithMaxNameLen sets the maximum directory-entry name length in bytes.
func WithMaxNameLen(n int) Option {
	return func(c *config) { c.maxNameLen = n }
}

// WithDirectoryMinSizeToBecomeIndexed sets the entry count at which a plain directory promotes to indexed.
func WithDirectoryMinSizeToBecomeIndexed(n int) Option {
	return func(c *config) { c.directoryMinSizeToBecomeIndexed = n }
}

// WithMode sets the container open mode ("r", "rw", "rws", "rwd").
func WithMode(m file.Mode) Option {
	return func(c *config) { c.mode = m }
}

// WithLogger overrides the logger used for allocation/compaction/promotion diagnostics.
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) { c.logger = l }
}

func (c *config) validate() error {
	if c.blockSize <= 0 || c.blockSize&(c.blockSize-1) != 0 {
		return invalidArgumentf("blockSize %d must be a positive power of two", c.blockSize)
	}
	if c.maxBlocks <= 0 || c.maxBlocks > HardMaxBlocks {
		return invalidArgumentf("maxBlocks %d must be positive and at most %d", c.maxBlocks, HardMaxBlocks)
	}
	if c.maxBlocks%c.blockSize != 0 {
		return invalidArgumentf("maxBlocks %d must be a multiple of blockSize %d", c.maxBlocks, c.blockSize)
	}
	if c.blockSize < 2*c.maxNameLen {
		return invalidArgumentf("blockSize %d must be at least twice maxNameLen %d", c.blockSize, c.maxNameLen)
	}
	if c.freeGroupsCacheSize <= 0 || c.freeLogicalAddressCacheSize <= 0 {
		return invalidArgumentf("cache sizes must be positive")
	}
	if c.directoryMinSizeToBecomeIndexed <= 0 {
		return invalidArgumentf("directoryMinSizeToBecomeIndexed must be positive")
	}
	return nil
}
