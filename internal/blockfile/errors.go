package blockfile

import (
	"fmt"
)

var (
	ErrBadMagic      = fmt.Errorf("not a block file")
	ErrVersion       = fmt.Errorf("unsupported block file version")
	ErrCorrupt       = fmt.Errorf("block file corrupt")
	ErrIndexExists   = fmt.Errorf("index already exists")
	ErrIndexNotFound = fmt.Errorf("index does not exist")
	ErrIndexClosed   = fmt.Errorf("index is not open")
	ErrIndexOpen     = fmt.Errorf("index is open")
	ErrReservedName  = fmt.Errorf("index name is reserved")
	ErrReadOnly      = fmt.Errorf("block file is read only")
	ErrClosed        = fmt.Errorf("block file is closed")
	ErrFileTooLarge  = fmt.Errorf("block file page limit reached")
)
