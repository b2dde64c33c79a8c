package schema

import "errors"

var (
    ErrInvalidValue      = errors.New("schema: invalid value")
    ErrInvalidDescriptor = errors.New("schema: invalid descriptor")
)
