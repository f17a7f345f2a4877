package mapping

import (
	"io"
	"os"
)

// DefaultSourcePath is where the kernel module publishes its rule table.
const DefaultSourcePath = "/proc/net/slick_nat_mappings"

type Source interface {
	Open() (io.ReadCloser, error)
	String() string
}

// FileSource reads rules from a file path.
type FileSource string

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

func (f FileSource) String() string {
	return string(f)
}
