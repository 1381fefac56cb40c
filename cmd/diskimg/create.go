package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/fat"
	"github.com/gokrazy/diskimg/gpt"
	"github.com/gokrazy/diskimg/humanize"
)

var createLayout string

var createCmd = &cobra.Command{
	Use:   "create <image>",
	Short: "Create a partitioned image from a layout file",
	Long: `create writes a new disk image with a GUID partition table and one
FAT volume per partition, populated from the directories named in the
layout file:

    partitions:
      - name: boot
        type: esp
        size: 64M
        label: BOOT
        source: ./bootfiles`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := loadLayout(createLayout)
		if err != nil {
			return err
		}
		diskGUID, err := guidOrRandom(l.DiskGUID)
		if err != nil {
			return errors.Wrap(err, "disk GUID")
		}

		// Partitions are packed back to back from the first usable LBA;
		// the total disk size follows from their combined length.
		var parts []gpt.Partition
		firstUsable, _ := gpt.UsableRange(gpt.DiskSectors(0))
		next := firstUsable
		for i := range l.Partitions {
			pl := &l.Partitions[i]
			size, err := parseSize(pl.Size)
			if err != nil {
				return errors.Wrapf(err, "partition %q", pl.Name)
			}
			sectors := uint64(size+diskimage.SectorSize-1) / diskimage.SectorSize
			typ, err := pl.typeGUID()
			if err != nil {
				return err
			}
			guid, err := guidOrRandom(pl.GUID)
			if err != nil {
				return errors.Wrapf(err, "partition %q: GUID", pl.Name)
			}
			parts = append(parts, gpt.Partition{
				Index:    i,
				Type:     typ,
				GUID:     guid,
				FirstLBA: next,
				LastLBA:  next + sectors - 1,
				Name:     pl.Name,
			})
			next += sectors
		}

		diskSectors := gpt.DiskSectors(next - firstUsable)
		img, err := diskimage.Create(args[0], int64(diskSectors)*diskimage.SectorSize)
		if err != nil {
			return errors.Wrapf(err, "creating %s", args[0])
		}
		defer img.Close()

		if err := gpt.Write(img, diskGUID, parts); err != nil {
			return err
		}

		for i := range l.Partitions {
			pl := &l.Partitions[i]
			if pl.Format == "none" {
				continue
			}
			b := fat.NewBuilder()
			b.SetLabel(pl.Label)
			if pl.Source != "" {
				if err := b.AddFS(afero.NewOsFs(), pl.Source); err != nil {
					return errors.Wrapf(err, "partition %q: reading %s", pl.Name, pl.Source)
				}
			}
			start, length := parts[i].ByteRange()
			if err := b.Build(img, start, length); err != nil {
				return errors.Wrapf(err, "partition %q", pl.Name)
			}
			files, dirs, contentBytes := b.Stats()
			log.Infof("partition %d (%s): %d files, %d dirs, %s",
				i+1, pl.Name, files, dirs, humanize.Bytes(uint64(contentBytes)))
		}

		log.Infof("wrote %s: %d partitions, %s",
			args[0], len(parts), humanize.Bytes(uint64(img.Size())))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&createLayout, "layout", "l", "",
		"YAML layout file describing the partitions")
	createCmd.MarkFlagRequired("layout")
	rootCmd.AddCommand(createCmd)
}
