package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/gpt"
	"github.com/gokrazy/diskimg/humanize"
)

var listCmd = &cobra.Command{
	Use:   "list <image>",
	Short: "List the partitions of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := diskimage.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "opening %s", args[0])
		}
		defer img.Close()

		table, err := gpt.Read(img)
		if err != nil {
			return errors.Wrapf(err, "reading partition table of %s", args[0])
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NUM\tSTART\tEND\tSIZE\tTYPE\tNAME")
		for _, p := range table.Partitions {
			fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
				p.Index+1, p.FirstLBA, p.LastLBA,
				humanize.Bytes(p.Sectors()*diskimage.SectorSize),
				p.Type, p.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
