package object

import (
	"fmt"
	"strconv"
	"strings"
)

type pathStep struct {
	name    string
	index   int
	isIndex bool
}

// parsePath splits a dotted field path into steps. Array elements may
// be addressed with bracketed suffixes ("users[2]", "grid[1][3]") or a
// bare numeric segment ("users.2"). The empty path yields no steps.
func parsePath(path string) ([]pathStep, error) {
	if path == "" {
		return nil, nil
	}

	var steps []pathStep

	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, fmt.Errorf("path %q contains an empty segment", path)
		}

		name := segment

		var suffixes []int
		for strings.HasSuffix(name, "]") {
			open := strings.LastIndexByte(name, '[')
			if open < 0 {
				return nil, fmt.Errorf("path segment %q has an unterminated index", segment)
			}

			idx, err := strconv.Atoi(name[open+1 : len(name)-1])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("path segment %q has a malformed index", segment)
			}

			suffixes = append([]int{idx}, suffixes...)
			name = name[:open]
		}

		if strings.ContainsAny(name, "[]") {
			return nil, fmt.Errorf("path segment %q has a malformed index", segment)
		}

		if name != "" {
			if idx, err := strconv.Atoi(name); err == nil && idx >= 0 {
				steps = append(steps, pathStep{index: idx, isIndex: true})
			} else {
				steps = append(steps, pathStep{name: name})
			}
		}

		for _, idx := range suffixes {
			steps = append(steps, pathStep{index: idx, isIndex: true})
		}
	}

	return steps, nil
}
