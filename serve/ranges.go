package serve

import (
	"errors"
	"strconv"
	"strings"
)

var errUnsatisfiable = errors.New("serve: range not satisfiable")

// byteRange is a resolved, non-empty slice [start, start+length) of a blob.
type byteRange struct {
	start  int64
	length int64
}

// parseRange resolves a Range header against a blob of size bytes.
//
// Only a single bytes range is honored. Headers in any other form are
// ignored and ok is false, so the whole blob is served. A well-formed range
// that selects nothing returns errUnsatisfiable.
func parseRange(header string, size int64) (r byteRange, ok bool, err error) {
	set, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(set, ",") {
		return byteRange{}, false, nil
	}
	first, last, found := strings.Cut(strings.TrimSpace(set), "-")
	if !found {
		return byteRange{}, false, nil
	}

	if first == "" {
		// Suffix range: the final n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false, nil
		}
		if n == 0 || size == 0 {
			return byteRange{}, false, errUnsatisfiable
		}
		n = min(n, size)
		return byteRange{start: size - n, length: n}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, nil
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return byteRange{}, false, nil
		}
		end = min(end, size-1)
	}
	if start >= size {
		return byteRange{}, false, errUnsatisfiable
	}
	return byteRange{start: start, length: end - start + 1}, true, nil
}
