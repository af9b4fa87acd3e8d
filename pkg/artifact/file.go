package artifact

import (
	"fmt"

	"golang.org/x/exp/mmap"
)

// readFile maps path and copies it out so the mapping can be released immediately
func readFile(path string, maxBytes int64) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer r.Close()

	size := int64(r.Len())
	if size > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, size)
	}

	data := make([]byte, size)
	if size == 0 {
		return data, nil
	}
	if _, err := r.ReadAt(data, 0); err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}
