package fat

import "testing"

func TestTypeForClusterCount(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		clusters uint32
		want     Type
	}{
		{1, TypeFAT12},
		{4084, TypeFAT12},
		{4085, TypeFAT16},
		{65524, TypeFAT16},
		{65525, TypeFAT32},
		{0x0FFFFFF4, TypeFAT32},
	} {
		if got := typeForClusterCount(tt.clusters); got != tt.want {
			t.Errorf("typeForClusterCount(%d) = %s, want %s", tt.clusters, got, tt.want)
		}
	}
}

func TestTypeString(t *testing.T) {
	t.Parallel()

	for typ, want := range map[Type]string{
		TypeFAT12: "FAT12",
		TypeFAT16: "FAT16",
		TypeFAT32: "FAT32",
	} {
		if got := typ.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
