package fetch

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Local files above this size are memory mapped instead of buffered,
// which keeps shard loads from double-allocating multi-hundred-MB
// annotation files.
const mmapThreshold = 1 << 20

// readLocal returns the contents of a local file along with a closer
// that releases the backing mapping. The returned slice is only valid
// until the closer runs; GetBytes copies it into owned memory.
func readLocal(path string) ([]byte, func(), error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetch: cannot open %s", path)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, errors.Wrapf(err, "fetch: cannot stat %s", path)
	}
	if stat.Size() >= mmapThreshold {
		mapped, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
		if mmapErr == nil {
			return mapped, func() {
				mapped.Unmap()
				file.Close()
			}, nil
		}
		// Fall through to a plain read if the platform refuses to map.
	}
	data := make([]byte, stat.Size())
	if _, err := file.ReadAt(data, 0); err != nil && stat.Size() > 0 {
		file.Close()
		return nil, nil, errors.Wrapf(err, "fetch: cannot read %s", path)
	}
	return data, func() { file.Close() }, nil
}
