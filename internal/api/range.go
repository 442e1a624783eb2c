package api

import (
	"strconv"
	"strings"
)

// byteRange is one parsed, satisfiable HTTP byte range.
type byteRange struct {
	start int64
	end   int64
}

// parseRange parses a single-range "bytes=" header against the given
// size.
//
// Returns (nil, true) when the header is absent or malformed, in which
// case the caller serves the whole file, and (nil, false) for a
// well-formed range that cannot be satisfied, which maps to 416.
// Multi-range requests are not supported and are served whole.
func parseRange(header string, size int64) (*byteRange, bool) {
	if header == "" {
		return nil, true
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, true
	}

	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, true
	}

	// Suffix form "-n": the final n bytes.
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil, false
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return nil, false
		}
		return &byteRange{start: size - n, end: size - 1}, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, true
	}
	if start >= size {
		return nil, false
	}

	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return nil, false
		}
		if end >= size {
			end = size - 1
		}
	}

	return &byteRange{start: start, end: end}, true
}
