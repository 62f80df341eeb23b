// Package blockfile stores any number of named ordered indices inside a
// single file of fixed size pages.
//
// Page 1 holds the superblock, page 2 the root of the metaindex which maps
// index names to their root pages. Every other page is either owned by an
// index or sits on the free list. Records larger than a page continue on
// chained continuation pages.
//
// A BlockFile is not safe for concurrent use.
package blockfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardKnop/blockfile/internal/page"
	"github.com/RichardKnop/blockfile/internal/skiplist"
	"github.com/RichardKnop/blockfile/pkg/serial"
)

type DBFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Truncate(size int64) error
	Stat() (fs.FileInfo, error)
	Sync() error
}

type BlockFile struct {
	file         DBFile
	writable     bool
	wasMounted   bool
	closed       bool
	sb           Superblock
	flb          *freeListBlock
	metaIndex    *Index[string, uint32]
	openIndices  map[string]*skiplist.List
	initSpanSize int
	spanCache    int
	logger       *zap.Logger
}

func newBlockFile(opts ...Option) *BlockFile {
	bf := &BlockFile{
		writable:     true,
		openIndices:  make(map[string]*skiplist.List),
		initSpanSize: DefaultSpanSize,
		spanCache:    skiplist.DefaultCacheSize,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(bf)
	}
	return bf
}

// Init formats file as a new, empty block file.
func Init(file DBFile, opts ...Option) (*BlockFile, error) {
	bf := newBlockFile(opts...)
	if err := bf.start(file, true); err != nil {
		return nil, err
	}
	return bf, nil
}

// Open binds to an existing block file.
func Open(file DBFile, opts ...Option) (*BlockFile, error) {
	bf := newBlockFile(opts...)
	if err := bf.start(file, false); err != nil {
		return nil, err
	}
	return bf, nil
}

// OpenFile opens the block file at path, creating and initializing it when
// it does not exist or is empty.
func OpenFile(path string, opts ...Option) (*BlockFile, error) {
	bf := newBlockFile(opts...)

	flag := os.O_RDWR | os.O_CREATE
	if !bf.writable {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, multierr.Append(err, file.Close())
	}

	bf.logger = bf.logger.With(zap.String("file", path))
	if err := bf.start(file, info.Size() == 0); err != nil {
		return nil, multierr.Append(err, file.Close())
	}
	return bf, nil
}

func (bf *BlockFile) start(file DBFile, init bool) error {
	bf.file = file

	if init {
		if !bf.writable {
			return fmt.Errorf("initialize: %w", ErrReadOnly)
		}
		if bf.initSpanSize < 1 || bf.initSpanSize > MaxSpanSize {
			return fmt.Errorf("invalid span size %d", bf.initSpanSize)
		}
		if err := bf.initialize(); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	} else if err := bf.readSuperblock(); err != nil {
		return err
	}

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if uint64(info.Size()) != bf.sb.FileLen {
		return fmt.Errorf("%w: file length %d, superblock says %d", ErrCorrupt, info.Size(), bf.sb.FileLen)
	}

	bf.wasMounted = bf.sb.Mounted != 0
	if bf.wasMounted {
		bf.logger.Warn("block file was not closed cleanly")
	}
	if bf.writable {
		if err := bf.setMounted(1); err != nil {
			return fmt.Errorf("mount: %w", err)
		}
	}

	metaList, err := skiplist.Open(bf, page.MetaIndex, bf.spanSize(), bf.listOptions(metaIndexName)...)
	if err != nil {
		return fmt.Errorf("open metaindex: %w", err)
	}
	bf.metaIndex = newIndex(metaIndexName, metaList, serial.String, serial.Uint32)

	bf.logger.Sugar().With(
		"pages", page.Count(int64(bf.sb.FileLen)),
		"free_list", bf.sb.FreeListStart,
		"span_size", bf.sb.SpanSize,
		"writable", bf.writable,
	).Info("opened block file")

	return nil
}

func (bf *BlockFile) initialize() error {
	bf.sb = newSuperblock(bf.initSpanSize)
	if err := bf.file.Truncate(int64(bf.sb.FileLen)); err != nil {
		return err
	}
	if err := bf.writeSuperblock(); err != nil {
		return err
	}
	return skiplist.Init(bf, page.MetaIndex, bf.spanSize())
}

func (bf *BlockFile) readSuperblock() error {
	buf := make([]byte, SuperblockSize)
	if _, err := bf.file.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: file too short for a superblock", ErrBadMagic)
		}
		return fmt.Errorf("read superblock: %w", err)
	}
	bf.sb.Unmarshal(buf)
	return bf.sb.Validate()
}

func (bf *BlockFile) writeSuperblock() error {
	buf := make([]byte, SuperblockSize)
	bf.sb.Marshal(buf)
	if _, err := bf.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write superblock: %w", err)
	}
	return nil
}

func (bf *BlockFile) setMounted(mounted uint16) error {
	buf := []byte{byte(mounted >> 8), byte(mounted)}
	if _, err := bf.file.WriteAt(buf, mountedOffset); err != nil {
		return err
	}
	bf.sb.Mounted = mounted
	return nil
}

// WasMounted reports whether the file was left mounted by a previous session,
// which means it was not closed cleanly.
func (bf *BlockFile) WasMounted() bool {
	return bf.wasMounted
}

func (bf *BlockFile) Writable() bool {
	return bf.writable
}

func (bf *BlockFile) SpanSize() int {
	return bf.spanSize()
}

func (bf *BlockFile) spanSize() int {
	return int(bf.sb.SpanSize)
}

func (bf *BlockFile) listOptions(name string) []skiplist.Option {
	return []skiplist.Option{
		skiplist.WithLogger(bf.logger.With(zap.String("index", name))),
		skiplist.WithCacheSize(bf.spanCache),
	}
}

// Close flushes and closes every open index, clears the mount flag and
// closes the file. The mount flag is the last thing written.
func (bf *BlockFile) Close() error {
	if bf.closed {
		return nil
	}
	bf.closed = true

	var err error
	names := make([]string, 0, len(bf.openIndices))
	for name := range bf.openIndices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if cerr := bf.openIndices[name].Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close index %q: %w", name, cerr))
		}
	}
	bf.openIndices = make(map[string]*skiplist.List)

	if bf.metaIndex != nil {
		if cerr := bf.metaIndex.list.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close metaindex: %w", cerr))
		}
	}

	if bf.writable {
		err = multierr.Append(err, bf.file.Sync())
		if err == nil {
			err = multierr.Append(err, bf.setMounted(0))
			err = multierr.Append(err, bf.file.Sync())
		} else {
			bf.logger.Error("leaving block file mounted after failed close", zap.Error(err))
		}
	}
	err = multierr.Append(err, bf.file.Close())

	bf.logger.Debug("closed block file")

	return err
}

func (bf *BlockFile) ensureOpen() error {
	if bf.closed {
		return ErrClosed
	}
	return nil
}

func (bf *BlockFile) ensureWritable() error {
	if bf.closed {
		return ErrClosed
	}
	if !bf.writable {
		return ErrReadOnly
	}
	return nil
}

func (bf *BlockFile) totalPages() uint32 {
	return page.Count(int64(bf.sb.FileLen))
}

// ReadAt reads len(buf) bytes at offset within a page. The superblock page
// cannot be read this way.
func (bf *BlockFile) ReadAt(buf []byte, pageIdx page.Index, offset int) error {
	if err := bf.checkAccess(pageIdx, offset, len(buf)); err != nil {
		return err
	}
	if _, err := bf.file.ReadAt(buf, page.Offset(pageIdx)+int64(offset)); err != nil {
		return fmt.Errorf("read page %d: %w", pageIdx, err)
	}
	return nil
}

// WriteAt writes buf at offset within a page. The superblock page cannot be
// written this way.
func (bf *BlockFile) WriteAt(buf []byte, pageIdx page.Index, offset int) error {
	if !bf.writable {
		return ErrReadOnly
	}
	if err := bf.checkAccess(pageIdx, offset, len(buf)); err != nil {
		return err
	}
	if _, err := bf.file.WriteAt(buf, page.Offset(pageIdx)+int64(offset)); err != nil {
		return fmt.Errorf("write page %d: %w", pageIdx, err)
	}
	return nil
}

func (bf *BlockFile) checkAccess(pageIdx page.Index, offset, n int) error {
	if pageIdx < page.MetaIndex {
		return fmt.Errorf("%w: null or superblock page access attempt: %d", ErrCorrupt, pageIdx)
	}
	if uint32(pageIdx) > bf.totalPages() {
		return fmt.Errorf("%w: page %d beyond end of file (%d pages)", ErrCorrupt, pageIdx, bf.totalPages())
	}
	if offset < 0 || offset+n > page.Size {
		return fmt.Errorf("access of %d bytes at offset %d crosses page %d", n, offset, pageIdx)
	}
	return nil
}
