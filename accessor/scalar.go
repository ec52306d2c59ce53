package accessor

import (
	"context"

	"github.com/fieldbus/deviceaccess/numeric"
	"github.com/fieldbus/deviceaccess/registerpath"
)

// ScalarAccessor ties an NDRegisterAccessor to a NumericTransfer so the
// raw<->cooked decode/encode steps run automatically around Read/Write,
// instead of requiring the caller to invoke PostReadInto/PreWriteFrom
// directly.
type ScalarAccessor[U numeric.Number] struct {
	*NDRegisterAccessor[U]
	transfer *NumericTransfer
}

// NewScalarAccessor builds a ready-to-use cooked scalar/1-D accessor.
func NewScalarAccessor[U numeric.Number](path registerpath.Path, transfer *NumericTransfer, nElements int, mode AccessMode, sink ExceptionSink) *ScalarAccessor[U] {
	return &ScalarAccessor[U]{
		NDRegisterAccessor: New[U](path, transfer, 1, nElements, mode, sink),
		transfer:           transfer,
	}
}

func (s *ScalarAccessor[U]) Read(ctx context.Context) error {
	if err := s.NDRegisterAccessor.Read(ctx); err != nil {
		return err
	}
	PostReadInto(s.transfer, s.NDRegisterAccessor.Channel(0))
	return nil
}

func (s *ScalarAccessor[U]) Write(ctx context.Context) error {
	PreWriteFrom(s.transfer, s.NDRegisterAccessor.Channel(0))
	return s.NDRegisterAccessor.Write(ctx)
}
