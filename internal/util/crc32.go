package util

import "hash/crc32"

// crc32bTable is the standard IEEE 802.3 polynomial (0xEDB88320 reflected),
// matching spec.md's crc32b: initial 0xFFFFFFFF, final XOR 0xFFFFFFFF.
var crc32bTable = crc32.MakeTable(crc32.IEEE)

// CRC32B computes the CRC32 of buf using the IEEE polynomial, initial value
// 0xFFFFFFFF and a final XOR of 0xFFFFFFFF — the same constants stdlib's
// crc32.ChecksumIEEE already bakes in, so this is a thin named wrapper kept
// for call-site clarity against spec.md's §4.A naming.
func CRC32B(buf []byte) uint32 {
	return crc32.Checksum(buf, crc32bTable)
}
