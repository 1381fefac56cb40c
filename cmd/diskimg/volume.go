package main

import (
	"github.com/pkg/errors"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/fat"
	"github.com/gokrazy/diskimg/gpt"
)

// openVolume opens the FAT volume in the numbered partition (1-based,
// as printed by list). Partition 0 treats the whole image as one
// unpartitioned volume.
func openVolume(img *diskimage.Image, num int) (*fat.Volume, error) {
	if num == 0 {
		return fat.Open(img, 0, img.Size())
	}
	table, err := gpt.Read(img)
	if err != nil {
		return nil, errors.Wrap(err, "reading partition table")
	}
	for i := range table.Partitions {
		p := &table.Partitions[i]
		if p.Index+1 != num {
			continue
		}
		start, length := p.ByteRange()
		vol, err := fat.Open(img, start, length)
		return vol, errors.Wrapf(err, "opening volume in partition %d", num)
	}
	return nil, errors.Errorf("no partition %d (%d partitions present)",
		num, len(table.Partitions))
}
