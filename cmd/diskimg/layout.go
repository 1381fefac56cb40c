package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// diskLayout is the YAML description consumed by the create command.
type diskLayout struct {
	DiskGUID   string            `yaml:"disk-guid"`
	Partitions []partitionLayout `yaml:"partitions"`
}

type partitionLayout struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	GUID   string `yaml:"guid"`
	Size   string `yaml:"size"`
	Label  string `yaml:"label"`
	Source string `yaml:"source"`
	Format string `yaml:"format"` // "fat" (default) or "none"
}

func loadLayout(path string) (*diskLayout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l diskLayout
	if err := yaml.UnmarshalStrict(raw, &l); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if len(l.Partitions) == 0 {
		return nil, errors.Errorf("%s: no partitions defined", path)
	}
	for i := range l.Partitions {
		p := &l.Partitions[i]
		if p.Size == "" {
			return nil, errors.Errorf("%s: partition %q: size is required", path, p.Name)
		}
		switch p.Format {
		case "", "fat", "none":
		default:
			return nil, errors.Errorf("%s: partition %q: unknown format %q",
				path, p.Name, p.Format)
		}
	}
	return &l, nil
}

// Type aliases accepted in layout files besides literal GUIDs.
var typeAliases = map[string]uuid.UUID{
	"esp":        uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"),
	"basic-data": uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"),
	"linux":      uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"),
}

func (p *partitionLayout) typeGUID() (uuid.UUID, error) {
	if p.Type == "" {
		return typeAliases["basic-data"], nil
	}
	if g, ok := typeAliases[strings.ToLower(p.Type)]; ok {
		return g, nil
	}
	g, err := uuid.Parse(p.Type)
	return g, errors.Wrapf(err, "partition %q: type %q", p.Name, p.Type)
}

// guidOrRandom parses s, or picks a random GUID when empty.
func guidOrRandom(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

// parseSize parses a byte count with an optional K, M or G suffix
// (powers of 1024), e.g. "36864", "512K", "64M", "2G".
func parseSize(s string) (int64, error) {
	mult := int64(1)
	num := s
	switch {
	case strings.HasSuffix(s, "K"):
		mult, num = 1024, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, num = 1024*1024, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult, num = 1024*1024*1024, strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
