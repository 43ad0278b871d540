package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/welvet/sf-vfs/integrity"
	"github.com/welvet/sf-vfs/sfvfs"
)

func openContainer(path string) (*sfvfs.Container, error) {
	return sfvfs.Open(path)
}

var flagPutRecursive bool

func init() {
	putCmd.Flags().BoolVarP(&flagPutRecursive, "recursive", "r", false, "copy a host directory tree instead of a single file")
}

var lsCmd = &cobra.Command{
	Use:   "ls CONTAINER [PATH]",
	Short: "List the contents of a directory inside a container",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) > 1 {
			path = args[1]
		}

		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		entries, err := c.List(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir {
				fmt.Printf("%10s  %s/\n", "-", e.Name)
			} else {
				fmt.Printf("%10d  %s\n", e.Size, e.Name)
			}
		}
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat CONTAINER PATH",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		data, err := c.ReadFile(args[1])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var putCmd = &cobra.Command{
	Use:   "put CONTAINER HOSTFILE PATH",
	Short: "Copy a file (or, with -r, a directory tree) from the host filesystem into the container",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		if flagPutRecursive {
			destDir := args[2]
			if destDir == "/" {
				destDir = ""
			}
			if destDir != "" {
				if err := c.Mkdir(destDir); err != nil {
					return err
				}
			}
			log.WithField("source", args[1]).Infof("copying tree into %s", args[2])
			return integrity.CopyFileSystemInto(os.DirFS(args[1]), c, destDir)
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		log.WithField("bytes", len(data)).Infof("writing %s", args[2])
		return c.WriteFile(args[2], data)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm CONTAINER PATH",
	Short: "Remove a file or empty directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Remove(args[1])
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv CONTAINER OLDPATH NEWPATH",
	Short: "Rename or move an entry within a container",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Rename(args[1], args[2])
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp CONTAINER SRCPATH DSTPATH",
	Short: "Copy a file within a container",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Copy(args[1], args[2])
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir CONTAINER PATH",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Mkdir(args[1])
	},
}

func init() {
	rootCmd.AddCommand(mkdirCmd)
}
