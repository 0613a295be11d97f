package util

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID. ULIDs sort lexically by creation time, so
// ordering by id gives a stable tie-break when wall-clock timestamps collide.
func NewID(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
