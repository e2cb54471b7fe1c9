package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Project bytes for the two segments of one store.
const (
	ProjIndex byte = 'i'
	ProjData  byte = 'd'
)

// KeyFor derives the System V IPC key for the rendezvous file and project id,
// using the same recipe as ftok(3): the low 16 bits of the inode, the low 8
// bits of the device, and the project byte.
//
// The rendezvous file must exist; its inode is what unrelated processes
// rendezvous on.
//
// Returns:
//   - int: The derived IPC key.
//   - error: The stat error if the rendezvous file is missing or unreadable.
func KeyFor(path string, projID byte) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat rendezvous file %s: %w", path, err)
	}

	key := uint32(st.Ino&0xffff) | uint32(st.Dev&0xff)<<16 | uint32(projID)<<24 //nolint: gosec

	return int(int32(key)), nil
}
