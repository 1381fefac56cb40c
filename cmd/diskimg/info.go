package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/gpt"
	"github.com/gokrazy/diskimg/humanize"
)

var infoPartition int

var infoCmd = &cobra.Command{
	Use:   "info <image>",
	Short: "Show partition table details, or FAT volume details with --partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := diskimage.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "opening %s", args[0])
		}
		defer img.Close()
		out := cmd.OutOrStdout()

		if infoPartition >= 0 {
			vol, err := openVolume(img, infoPartition)
			if err != nil {
				return err
			}
			i := vol.Info()
			fmt.Fprintf(out, "type: %s\n", i.Type)
			fmt.Fprintf(out, "bytes per sector: %d\n", i.BytesPerSector)
			fmt.Fprintf(out, "sectors per cluster: %d\n", i.SectorsPerCluster)
			fmt.Fprintf(out, "reserved sectors: %d\n", i.ReservedSectors)
			fmt.Fprintf(out, "FAT copies: %d\n", i.NumFATs)
			fmt.Fprintf(out, "sectors per FAT: %d\n", i.FATSectors)
			fmt.Fprintf(out, "root entries: %d\n", i.RootEntryCount)
			fmt.Fprintf(out, "total sectors: %d\n", i.TotalSectors)
			fmt.Fprintf(out, "clusters: %d\n", i.ClusterCount)
			if i.RootCluster != 0 {
				fmt.Fprintf(out, "root cluster: %d\n", i.RootCluster)
			}
			if i.VolumeLabel != "" {
				fmt.Fprintf(out, "label: %s\n", i.VolumeLabel)
			}
			return nil
		}

		table, err := gpt.Read(img)
		if err != nil {
			return errors.Wrapf(err, "reading partition table of %s", args[0])
		}
		hdr := &table.Header
		fmt.Fprintf(out, "disk: %s (%d sectors)\n", humanize.Bytes(uint64(img.Size())), img.Sectors())
		fmt.Fprintf(out, "disk GUID: %s\n", hdr.DiskGUID)
		fmt.Fprintf(out, "header LBA: %d (backup at %d)\n", hdr.CurrentLBA, hdr.BackupLBA)
		fmt.Fprintf(out, "usable LBAs: %d-%d\n", hdr.FirstUsableLBA, hdr.LastUsableLBA)
		fmt.Fprintf(out, "entry array: LBA %d, %d entries of %d bytes\n",
			hdr.EntryLBA, hdr.EntryCount, hdr.EntrySize)
		fmt.Fprintf(out, "partitions: %d\n", len(table.Partitions))
		return nil
	},
}

func init() {
	infoCmd.Flags().IntVarP(&infoPartition, "partition", "p", -1,
		"show the FAT volume in this partition (0 = whole image)")
	rootCmd.AddCommand(infoCmd)
}
