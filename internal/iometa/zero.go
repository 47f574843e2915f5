// Package iometa holds small io plumbing shared by the loading pipeline.
package iometa

import (
	"fmt"
	"io"
)

// ZeroReader yields Size zero bytes and then EOF. The loader streams it into
// freshly allocated section memory to give NOBITS sections defined contents,
// independent of what the allocator hands back.
type ZeroReader struct {
	Size int

	offset int
}

func (r *ZeroReader) Read(buff []byte) (int, error) {
	n := min(len(buff), r.Size-r.offset)

	for i := 0; i < n; i++ {
		buff[i] = 0
	}

	r.offset += n

	if r.offset == r.Size {
		return n, io.EOF
	}

	return n, nil
}

// WriteZeros writes count zero bytes to w.
func WriteZeros(w io.Writer, count int) error {
	if _, err := io.Copy(w, &ZeroReader{Size: count}); err != nil {
		return fmt.Errorf("failed to write zeros: %w", err)
	}

	return nil
}
