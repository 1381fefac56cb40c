package main

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/humanize"
)

var (
	readPartition int
	readOutput    string
)

var readCmd = &cobra.Command{
	Use:   "read <image> <path>",
	Short: "Extract a file from a FAT volume",
	Long: `read extracts one file from the FAT volume in the given partition,
e.g. diskimg read disk.img EFI/BOOT/BOOTX64.EFI -p 1 -o bootx64.efi.
Without --output the contents go to stdout.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := diskimage.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "opening %s", args[0])
		}
		defer img.Close()

		vol, err := openVolume(img, readPartition)
		if err != nil {
			return err
		}
		e, err := vol.Lookup(args[1])
		if err != nil {
			return err
		}
		if e.IsDir() {
			return errors.Errorf("%s is a directory", args[1])
		}
		data, err := vol.ReadFile(e)
		if err != nil {
			return errors.Wrapf(err, "reading %s", args[1])
		}

		if readOutput == "" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(readOutput, data, 0o644); err != nil {
			return err
		}
		log.Infof("wrote %s (%s)", readOutput, humanize.Bytes(uint64(len(data))))
		return nil
	},
}

func init() {
	readCmd.Flags().IntVarP(&readPartition, "partition", "p", 1,
		"partition holding the volume (0 = whole image)")
	readCmd.Flags().StringVarP(&readOutput, "output", "o", "",
		"write the file here instead of stdout")
	rootCmd.AddCommand(readCmd)
}
