package rules

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// designatorRank orders the recognized channel designators so positional
// pairing is stable and predictable: front stereo, center, LFE, rear
// stereo, then mono, then anything identified only by a trailing number.
var designatorRank = map[string]int{
	"FL":   0,
	"FR":   1,
	"C":    2,
	"LFE":  3,
	"RL":   4,
	"RR":   5,
	"MONO": 6,
}

var trailingNumberRe = regexp.MustCompile(`(\d+)$`)

// channelDesignator extracts the channel-designator token from a port
// name: the last token (split on non-alphanumeric separators) that is one
// of FL/FR/C/LFE/RL/RR/Mono (case-insensitive), else the trailing number,
// else the empty string.
func channelDesignator(portName string) string {
	tokens := strings.FieldsFunc(strings.ToUpper(portName), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i := len(tokens) - 1; i >= 0; i-- {
		if _, ok := designatorRank[tokens[i]]; ok {
			return tokens[i]
		}
	}
	if m := trailingNumberRe.FindStringSubmatch(portName); m != nil {
		return m[1]
	}
	return ""
}

// designatorSortKey orders known designators first by rank, then anything
// else (numeric trailing designators, or none) by its own string/numeric
// value, numbers ascending.
func designatorSortKey(d string) (rank int, numeric int, raw string) {
	if r, ok := designatorRank[d]; ok {
		return r, 0, d
	}
	if n, err := strconv.Atoi(d); err == nil {
		return len(designatorRank), n, d
	}
	return len(designatorRank) + 1, 0, d
}

// namedPort is the minimal port shape the heuristic pairing needs: an id
// and a name to derive a channel designator from.
type namedPort struct {
	ID   uint32
	Name string
}

// pairPortsByDesignator implements the heuristic channel-pairing mapping:
// sort both port lists by channel designator, pair by position after a
// stable sort, and leave any excess ports on either side unconnected.
func pairPortsByDesignator(outputs, inputs []namedPort) []PortPair {
	sortByDesignator(outputs)
	sortByDesignator(inputs)

	n := len(outputs)
	if len(inputs) < n {
		n = len(inputs)
	}
	pairs := make([]PortPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, PortPair{OutputPort: outputs[i].ID, InputPort: inputs[i].ID})
	}
	return pairs
}

func sortByDesignator(ports []namedPort) {
	sort.SliceStable(ports, func(i, j int) bool {
		ri, ni, si := designatorSortKey(channelDesignator(ports[i].Name))
		rj, nj, sj := designatorSortKey(channelDesignator(ports[j].Name))
		if ri != rj {
			return ri < rj
		}
		if ni != nj {
			return ni < nj
		}
		return si < sj
	})
}

// groupByMediaType partitions ports into media-type buckets, preserving
// relative order within each bucket (the heuristic pairing's first step).
func groupByMediaType(ports []namedPort, mediaTypeOf func(portID uint32) string) map[string][]namedPort {
	groups := make(map[string][]namedPort)
	for _, p := range ports {
		mt := mediaTypeOf(p.ID)
		groups[mt] = append(groups[mt], p)
	}
	return groups
}
