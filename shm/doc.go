// Package shm wraps System V shared memory segments for the metrics store.
//
// Segments are identified by a key derived from the inode of a well-known
// rendezvous file plus a one-byte project id, the same derivation C consumers
// perform with ftok(3). The store uses two segments per rendezvous file: the
// index segment (project byte 'i') and the data segment (project byte 'd').
//
// The package offers byte-granular reads and writes at arbitrary offsets and
// does not serialize callers; mutual exclusion across processes is the
// rendezvous lock's job.
package shm
