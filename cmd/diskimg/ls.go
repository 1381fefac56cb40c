package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/fatfs"
	"github.com/gokrazy/diskimg/humanize"
)

var lsPartition int

var lsCmd = &cobra.Command{
	Use:   "ls <image> [path]",
	Short: "List a directory of a FAT volume",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := diskimage.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "opening %s", args[0])
		}
		defer img.Close()

		vol, err := openVolume(img, lsPartition)
		if err != nil {
			return err
		}
		dir := "/"
		if len(args) == 2 {
			dir = args[1]
		}
		f, err := fatfs.New(vol).Open(dir)
		if err != nil {
			return err
		}
		defer f.Close()
		infos, err := f.Readdir(-1)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 8, 2, ' ', 0)
		for _, info := range infos {
			size := humanize.Bytes(uint64(info.Size()))
			if info.IsDir() {
				size = "-"
			}
			modified := "-"
			if !info.ModTime().IsZero() {
				modified = info.ModTime().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", size, modified, info.Name())
		}
		return w.Flush()
	},
}

func init() {
	lsCmd.Flags().IntVarP(&lsPartition, "partition", "p", 1,
		"partition holding the volume (0 = whole image)")
	rootCmd.AddCommand(lsCmd)
}
