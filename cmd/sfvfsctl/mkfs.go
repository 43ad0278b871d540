package main

import (
	"github.com/spf13/cobra"

	"github.com/welvet/sf-vfs/sfvfs"
)

var (
	flagBlockSize  int
	flagMaxBlocks  int
	flagMaxNameLen int
)

func init() {
	f := mkfsCmd.Flags()
	f.IntVar(&flagBlockSize, "block-size", sfvfs.DefaultBlockSize, "block size in bytes, must be a power of two")
	f.IntVar(&flagMaxBlocks, "max-blocks", sfvfs.DefaultMaxBlocks, "maximum number of logical blocks the container may ever allocate")
	f.IntVar(&flagMaxNameLen, "max-name-len", sfvfs.DefaultMaxNameLen, "maximum directory entry name length in bytes")
}

var mkfsCmd = &cobra.Command{
	Use:   "mkfs CONTAINER",
	Short: "Create a new, empty container file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sfvfs.Create(args[0],
			sfvfs.WithBlockSize(flagBlockSize),
			sfvfs.WithMaxBlocks(flagMaxBlocks),
			sfvfs.WithMaxNameLen(flagMaxNameLen),
		)
		if err != nil {
			return err
		}
		return c.Close()
	},
}
