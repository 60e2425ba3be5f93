package executor

import (
	"strconv"
	"strings"
)

// GetValueFromPath walks a dotted path, with optional bracketed numeric
// indices, through nested maps and slices: "a.b.c", "a[0].b",
// "items[2][0]". It never panics: when any segment is missing, out of
// range, or the container is nil, it returns ok=false.
func GetValueFromPath(root any, path string) (any, bool) {
	if path == "" {
		return root, root != nil
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		name, indices, ok := parseSegment(segment)
		if !ok {
			return nil, false
		}
		if name != "" {
			obj, isMap := current.(map[string]any)
			if !isMap {
				return nil, false
			}
			v, found := obj[name]
			if !found {
				return nil, false
			}
			current = v
		}
		for _, idx := range indices {
			arr, isSlice := current.([]any)
			if !isSlice || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
		if current == nil {
			return nil, false
		}
	}
	return current, true
}

// parseSegment splits one path segment into its key name and bracketed
// indices, e.g. "items[2][0]" → ("items", [2, 0]).
func parseSegment(segment string) (string, []int, bool) {
	open := strings.IndexByte(segment, '[')
	if open == -1 {
		if segment == "" {
			return "", nil, false
		}
		return segment, nil, true
	}

	name := segment[:open]
	rest := segment[open:]
	var indices []int
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		closing := strings.IndexByte(rest, ']')
		if closing == -1 {
			return "", nil, false
		}
		idx, err := strconv.Atoi(rest[1:closing])
		if err != nil {
			return "", nil, false
		}
		indices = append(indices, idx)
		rest = rest[closing+1:]
	}
	return name, indices, true
}
