// Package hash computes stable identities for metric triples and names.
package hash

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}

// TripleID computes the identity of a {cluster, item, instance} triple, used
// to detect duplicate registrations.
func TripleID(cluster uint16, item uint16, instance int32) uint64 {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.WriteString(strconv.FormatUint(uint64(cluster), 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatUint(uint64(item), 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(int64(instance), 10))

	return d.Sum64()
}
