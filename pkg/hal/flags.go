package hal

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Has reports whether every bit of flag is set in set. The empty flag is
// never a member.
func Has[T constraints.Unsigned](set, flag T) bool {
	return flag != 0 && set&flag == flag
}

// Any reports whether set shares at least one bit with mask.
func Any[T constraints.Unsigned](set, mask T) bool {
	return set&mask != 0
}

// FormatFlags renders set as names joined by '|', lowest bit first. Bits
// without a name are printed in hex.
func FormatFlags[T constraints.Unsigned](set T, names map[T]string) string {
	if set == 0 {
		return "none"
	}
	bits := maps.Keys(names)
	slices.Sort(bits)

	var parts []string
	rest := set
	for _, b := range bits {
		if Has(set, b) {
			parts = append(parts, names[b])
			rest &^= b
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(rest)))
	}
	return strings.Join(parts, "|")
}
