package gpt

import "github.com/google/uuid"

// On disk, the first three GUID fields are stored little-endian while
// uuid.UUID keeps the big-endian RFC 4122 byte order. See the Intel
// EFI specification, Appendix A: GUID and Time Formats.

func guidFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

func guidBytes(u uuid.UUID) [16]byte {
	var b [16]byte
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:16])
	return b
}
