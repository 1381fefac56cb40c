package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCommand executes the CLI in-process and captures stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "DOCS"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HELLO.TXT"), []byte("hello from the image\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DOCS", "NOTE.TXT"), []byte("nested\n"), 0o644))
	return dir
}

func TestCreateListReadRoundTrip(t *testing.T) {
	tree := writeTree(t)
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")
	layout := filepath.Join(dir, "layout.yml")

	layoutYAML := `disk-guid: 80687DB2-F3F9-427A-8199-165DB4B50000
partitions:
  - name: boot
    type: esp
    guid: 80687DB2-F3F9-427A-8199-165DB4B50001
    size: 1M
    label: BOOT
    source: ` + tree + `
  - name: data
    type: basic-data
    size: 512K
`
	require.NoError(t, os.WriteFile(layout, []byte(layoutYAML), 0o644))

	_, err := runCommand(t, "create", img, "--layout", layout)
	require.NoError(t, err)
	fi, err := os.Stat(img)
	require.NoError(t, err)
	require.Zero(t, fi.Size()%512, "image size must be sector-aligned")

	out, err := runCommand(t, "list", img)
	require.NoError(t, err)
	require.Contains(t, out, "boot")
	require.Contains(t, out, "data")
	require.Contains(t, out, "c12a7328-f81f-11d2-ba4b-00a0c93ec93b")

	out, err = runCommand(t, "info", img)
	require.NoError(t, err)
	require.Contains(t, out, "80687db2-f3f9-427a-8199-165db4b50000")
	require.Contains(t, out, "partitions: 2")

	out, err = runCommand(t, "info", img, "--partition", "1")
	require.NoError(t, err)
	require.Contains(t, out, "type: FAT12")
	require.Contains(t, out, "label: BOOT")

	out, err = runCommand(t, "ls", img, "--partition", "1")
	require.NoError(t, err)
	require.Contains(t, out, "HELLO.TXT")
	require.Contains(t, out, "DOCS")

	out, err = runCommand(t, "read", img, "DOCS/NOTE.TXT", "--partition", "1")
	require.NoError(t, err)
	require.Equal(t, "nested\n", out)

	extracted := filepath.Join(dir, "note.txt")
	_, err = runCommand(t, "read", img, "DOCS/NOTE.TXT", "--partition", "1", "--output", extracted)
	require.NoError(t, err)
	data, err := os.ReadFile(extracted)
	require.NoError(t, err)
	require.Equal(t, "nested\n", string(data))
}

func TestCreateRejectsBadLayout(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")

	for name, layoutYAML := range map[string]string{
		"no partitions": "partitions: []\n",
		"missing size":  "partitions:\n  - name: boot\n",
		"bad format":    "partitions:\n  - name: boot\n    size: 1M\n    format: ext4\n",
		"bad type":      "partitions:\n  - name: boot\n    size: 1M\n    type: floppy\n",
	} {
		t.Run(name, func(t *testing.T) {
			layout := filepath.Join(t.TempDir(), "layout.yml")
			require.NoError(t, os.WriteFile(layout, []byte(layoutYAML), 0o644))
			_, err := runCommand(t, "create", img, "--layout", layout)
			require.Error(t, err)
		})
	}
}

func TestParseSize(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"4K", 4096},
		{"1M", 1 << 20},
		{"2G", 2 << 30},
	} {
		got, err := parseSize(tt.in)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
	for _, in := range []string{"", "-1", "0", "1X", "M"} {
		_, err := parseSize(in)
		require.Error(t, err, "parseSize(%q)", in)
	}
}
