package towngen

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"time"
)

// ResolveSeed turns a configured seed hint into a numeric seed. Numeric hints
// are used verbatim, anything else is hashed, and an empty or zero hint picks a
// time-based seed.
func ResolveSeed(hint string) (uint32, string) {
	var seed uint32
	if hint != "" {
		if v, err := strconv.ParseUint(hint, 0, 32); err == nil {
			seed = uint32(v)
		} else {
			seed = crc32.ChecksumIEEE([]byte(hint))
		}
	}
	if seed == 0 {
		seed = uint32(time.Now().UnixNano())
	}
	displayName := fmt.Sprintf("towngen (seed: %d)", seed)
	return seed, displayName
}
