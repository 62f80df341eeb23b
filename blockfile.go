// Package blockfile stores named, persistent key/value indices in a single
// file of fixed-size pages.
package blockfile

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	core "github.com/RichardKnop/blockfile/internal/blockfile"
	"github.com/RichardKnop/blockfile/internal/pkg/logging"
	"github.com/RichardKnop/blockfile/pkg/serial"
)

type (
	BlockFile = core.BlockFile
	Stats     = core.Stats
	Option    = core.Option
)

type Index[K, V any] = core.Index[K, V]

type Iterator[K, V any] = core.Iterator[K, V]

var (
	ErrBadMagic      = core.ErrBadMagic
	ErrVersion       = core.ErrVersion
	ErrCorrupt       = core.ErrCorrupt
	ErrIndexExists   = core.ErrIndexExists
	ErrIndexNotFound = core.ErrIndexNotFound
	ErrIndexClosed   = core.ErrIndexClosed
	ErrIndexOpen     = core.ErrIndexOpen
	ErrReservedName  = core.ErrReservedName
	ErrReadOnly      = core.ErrReadOnly
	ErrClosed        = core.ErrClosed
	ErrFileTooLarge  = core.ErrFileTooLarge
)

var (
	WithLogger    = core.WithLogger
	WithReadOnly  = core.WithReadOnly
	WithSpanSize  = core.WithSpanSize
	WithSpanCache = core.WithSpanCache
)

// Open opens or creates the block file named by a connection string,
// see ParseConnectionString.
func Open(connStr string) (*BlockFile, error) {
	config, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	return OpenConfig(config)
}

// OpenConfig opens or creates a block file. Options passed here are applied
// after the ones derived from the config. If the previous session did not
// close the file cleanly and CheckOnDirty is set, the whole file is checked
// and repaired before returning.
func OpenConfig(config *ConnectionConfig, opts ...Option) (*BlockFile, error) {
	logConf := logging.DefaultConfig()
	logConf.Level = config.GetZapLevel()
	logger, err := logConf.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	options := append(config.Options(), WithLogger(logger))
	bf, err := core.OpenFile(config.FilePath, append(options, opts...)...)
	if err != nil {
		return nil, err
	}

	if !bf.WasMounted() || !config.CheckOnDirty || !bf.Writable() {
		return bf, nil
	}

	modified, err := bf.Check(true)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("check after unclean shutdown: %w", err), bf.Close())
	}
	logger.Info("checked after unclean shutdown",
		zap.String("file", config.FilePath),
		zap.Bool("modified", modified),
	)
	return bf, nil
}

// GetIndex opens an existing index, see MakeIndex.
func GetIndex[K, V any](bf *BlockFile, name string, keys serial.Serializer[K], values serial.Serializer[V]) (*Index[K, V], error) {
	return core.GetIndex(bf, name, keys, values)
}

// MakeIndex creates an empty index and opens it. Keys must encode so that
// byte order matches key order.
func MakeIndex[K, V any](bf *BlockFile, name string, keys serial.Serializer[K], values serial.Serializer[V]) (*Index[K, V], error) {
	return core.MakeIndex(bf, name, keys, values)
}

// ReformatIndex rewrites every entry of a closed index from the old codecs to
// the new ones. An interrupted reformat resumes on the next call.
func ReformatIndex[K, V any](
	bf *BlockFile,
	name string,
	oldKeys serial.Serializer[K],
	oldValues serial.Serializer[V],
	newKeys serial.Serializer[K],
	newValues serial.Serializer[V],
) error {
	return core.ReformatIndex(bf, name, oldKeys, oldValues, newKeys, newValues)
}
