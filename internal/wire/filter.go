package wire

import (
	"fmt"
	"io"

	"github.com/weavenet/weave/internal/filter"
)

// EncodeFilter writes a subscription filter as a length-prefixed byte
// string; the length itself communicates which of filter.Sizes was
// used, so no separate size field is needed.
func EncodeFilter(w io.Writer, f *filter.Filter) (int, error) {
	return PutVarBytes(w, f.Bytes())
}

func DecodeFilter(r io.Reader) (*filter.Filter, error) {
	b, err := ReadVarBytes(r)
	if err != nil {
		return nil, err
	}
	f, err := filter.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilterSize, err)
	}
	return f, nil
}
