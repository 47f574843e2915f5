package elf32

import (
	"errors"
	"fmt"
	"io"

	"github.com/lodepine/xtload/internal/unalign"
)

// Source is a random-access blob of object file bytes. ReadAt fills buf
// entirely or reports an error; short reads are errors. The source is
// borrowed from the caller and never closed by this package.
type Source interface {
	ReadAt(off int64, buf []byte) error
}

// FileSource reads the object from a seekable backing store such as an
// [os.File].
type FileSource struct {
	R io.ReaderAt
}

func (s *FileSource) ReadAt(off int64, buf []byte) error {
	if _, err := s.R.ReadAt(buf, off); err != nil {
		return fmt.Errorf("read of %d bytes at offset %d failed: %w", len(buf), off, err)
	}

	return nil
}

var errReadBeyondImage = errors.New("read beyond end of memory image")

// MemSource reads an object already resident in loader-addressable memory,
// for instance a module staged in flash or downloaded straight into a data
// region. Bytes are fetched through the unaligned accessors because the image
// may sit in memory that only supports aligned word loads.
type MemSource struct {
	Mem  unalign.Memory
	Base uint32
	Size uint32
}

func (s *MemSource) ReadAt(off int64, buf []byte) error {
	if off < 0 || off+int64(len(buf)) > int64(s.Size) {
		return fmt.Errorf("read of %d bytes at offset %d: %w", len(buf), off, errReadBeyondImage)
	}

	for i := range buf {
		b, err := unalign.Get8(s.Mem, s.Base+uint32(off)+uint32(i))
		if err != nil {
			return fmt.Errorf("read at offset %d failed: %w", off+int64(i), err)
		}

		buf[i] = b
	}

	return nil
}
