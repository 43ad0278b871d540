package main

import (
	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact CONTAINER",
	Short: "Pack live blocks toward the head of the container and shrink trailing free space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		before := c.BlockStore().TotalBlocks()
		if err := c.Compact(); err != nil {
			return err
		}
		after := c.BlockStore().TotalBlocks()
		log.Infof("compacted: %d -> %d total blocks", before, after)
		return nil
	},
}
