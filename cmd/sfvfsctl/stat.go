package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/welvet/sf-vfs/util"
)

var flagStatRaw bool

func init() {
	statCmd.Flags().BoolVar(&flagStatRaw, "raw", false, "dump the entry's contents as a hex/ASCII block")
}

var statCmd = &cobra.Command{
	Use:   "stat CONTAINER PATH",
	Short: "Show metadata for a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		e, err := c.Stat(args[1])
		if err != nil {
			return err
		}

		kind := "file"
		if e.IsDir {
			kind = "directory"
		}
		fmt.Printf("Name: %s\n", e.Name)
		fmt.Printf("Type: %s\n", kind)
		fmt.Printf("Size: %d\n", e.Size)
		fmt.Printf("Block size: %d\n", c.BlockStore().BlockSize())
		fmt.Printf("Total blocks: %d\n", c.BlockStore().TotalBlocks())
		fmt.Printf("Free blocks: %d\n", c.BlockStore().FreeBlocks())

		if flagStatRaw && !e.IsDir {
			data, err := c.ReadFile(args[1])
			if err != nil {
				return err
			}
			fmt.Print(util.DumpByteSlice(data, 16, true, true, false, nil))
		}
		return nil
	},
}
