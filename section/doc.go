// Package section defines the binary sections of the index segment: the
// 12-byte header at offset 0 and the packed 16-byte entries that follow it.
//
// Both structures are packed with no alignment padding and encoded with the
// host-native endian engine, so an out-of-process C reader can overlay its
// own structs on the same bytes. Entries are append-only; bytes below the
// published next-index cursor never change after their initial write.
package section
