package blockfile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardKnop/blockfile/internal/page"
	"github.com/RichardKnop/blockfile/internal/skiplist"
	"github.com/RichardKnop/blockfile/pkg/serial"
)

const (
	metaIndexName = "metaindex"

	reformatMarker = "---tmp---"
	reformatBatch  = 32
)

func reformatName(name string) string {
	return reformatMarker + name + reformatMarker
}

func isReserved(name string) bool {
	return strings.HasPrefix(name, reformatMarker)
}

func checkName(name string) error {
	if isReserved(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return nil
}

// GetIndex opens the named index. On a writable file an index is checked and
// repaired the first time it is opened.
func GetIndex[K, V any](bf *BlockFile, name string, keys serial.Serializer[K], values serial.Serializer[V]) (*Index[K, V], error) {
	if err := bf.ensureOpen(); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	list, err := bf.openList(name, true)
	if err != nil {
		return nil, err
	}
	return newIndex(name, list, keys, values), nil
}

// MakeIndex creates a new, empty named index.
func MakeIndex[K, V any](bf *BlockFile, name string, keys serial.Serializer[K], values serial.Serializer[V]) (*Index[K, V], error) {
	if err := bf.ensureWritable(); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	list, err := bf.makeList(name)
	if err != nil {
		return nil, err
	}
	return newIndex(name, list, keys, values), nil
}

// DelIndex deletes the named index and frees its pages. Deleting a name that
// does not exist does nothing. The index must be open.
func (bf *BlockFile) DelIndex(name string) error {
	if err := bf.ensureWritable(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	return bf.deleteList(name)
}

// CloseIndex flushes and closes the named index. It stays on disk and can be
// opened again.
func (bf *BlockFile) CloseIndex(name string) error {
	if err := bf.ensureOpen(); err != nil {
		return err
	}
	return bf.closeList(name)
}

// IsOpen reports whether the named index is currently open.
func (bf *BlockFile) IsOpen(name string) bool {
	_, ok := bf.openIndices[name]
	return ok
}

// ListIndices returns the names of all indices in key order.
func (bf *BlockFile) ListIndices() ([]string, error) {
	if err := bf.ensureOpen(); err != nil {
		return nil, err
	}
	var names []string
	it := bf.metaIndex.Iterator()
	for it.Next() {
		if isReserved(it.Key()) {
			continue
		}
		names = append(names, it.Key())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// ReformatIndex rewrites the named index from the old serializers to the new
// ones. Entries move in batches to a temporary index which then takes over
// the name, so the index ends up with a different root page. An interrupted
// reformat resumes when called again.
func ReformatIndex[K, V any](
	bf *BlockFile,
	name string,
	oldKeys serial.Serializer[K], oldValues serial.Serializer[V],
	newKeys serial.Serializer[K], newValues serial.Serializer[V],
) error {
	if err := bf.ensureWritable(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	if bf.IsOpen(name) {
		return fmt.Errorf("%w: %q", ErrIndexOpen, name)
	}

	tmpName := reformatName(name)
	logger := bf.logger.With(zap.String("index", name))

	srcList, err := bf.openList(name, true)
	if errors.Is(err, ErrIndexNotFound) {
		if _, ok, gerr := bf.metaIndex.Get(tmpName); gerr == nil && ok {
			logger.Warn("original index already deleted, finishing reformat")
			return bf.finishReformat(name, tmpName)
		}
	}
	if err != nil {
		return err
	}
	src := newIndex(name, srcList, oldKeys, oldValues)

	dstList, err := bf.openList(tmpName, true)
	switch {
	case errors.Is(err, ErrIndexNotFound):
		dstList, err = bf.makeList(tmpName)
	case err == nil:
		logger.Warn("resuming interrupted reformat", zap.Int("moved", dstList.Len()))
	}
	if err != nil {
		return err
	}
	dst := newIndex(tmpName, dstList, newKeys, newValues)

	moved := 0
	for {
		batch, err := src.captureBatch(reformatBatch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			if _, _, err := dst.Put(e.key, e.value); err != nil {
				return err
			}
		}
		for i := len(batch) - 1; i >= 0; i-- {
			if _, _, err := src.list.Remove(batch[i].raw); err != nil {
				return err
			}
		}
		moved += len(batch)
	}

	if err := bf.deleteList(name); err != nil {
		return err
	}
	if err := bf.finishReformat(name, tmpName); err != nil {
		return err
	}
	logger.Info("reformatted index", zap.Int("entries", moved))

	return nil
}

type batchEntry[K, V any] struct {
	raw   []byte
	key   K
	value V
}

// captureBatch decodes up to n entries from the front of the index without
// changing it.
func (i *Index[K, V]) captureBatch(n int) ([]batchEntry[K, V], error) {
	batch := make([]batchEntry[K, V], 0, n)
	it := i.Iterator()
	for len(batch) < n && it.Next() {
		batch = append(batch, batchEntry[K, V]{
			raw:   bytes.Clone(it.it.Key()),
			key:   it.Key(),
			value: it.Value(),
		})
	}
	return batch, it.Err()
}

// finishReformat binds name to the temporary index's root page.
func (bf *BlockFile) finishReformat(name, tmpName string) error {
	if err := bf.closeList(tmpName); err != nil {
		return err
	}
	root, ok, err := bf.metaIndex.Get(tmpName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrIndexNotFound, tmpName)
	}
	if _, _, err := bf.metaIndex.Put(name, root); err != nil {
		return err
	}
	if _, _, err := bf.metaIndex.Remove(tmpName); err != nil {
		return err
	}
	return bf.metaIndex.Flush()
}

func (bf *BlockFile) openList(name string, repair bool) (*skiplist.List, error) {
	if list, ok := bf.openIndices[name]; ok {
		return list, nil
	}

	root, ok, err := bf.metaIndex.Get(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}

	list, err := skiplist.Open(bf, page.Index(root), bf.spanSize(), bf.listOptions(name)...)
	if err != nil {
		return nil, fmt.Errorf("open index %q: %w", name, err)
	}

	if repair && bf.writable {
		modified, err := list.Check(true, false)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("check index %q: %w", name, err), list.Close())
		}
		if modified {
			bf.logger.Warn("repaired index", zap.String("index", name))
		} else {
			bf.logger.Debug("no errors in index", zap.String("index", name))
		}
	}

	bf.openIndices[name] = list
	return list, nil
}

func (bf *BlockFile) makeList(name string) (*skiplist.List, error) {
	_, ok, err := bf.metaIndex.Get(name)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %q", ErrIndexExists, name)
	}

	root, err := bf.AllocPage()
	if err != nil {
		return nil, err
	}
	if err := skiplist.Init(bf, root, bf.spanSize()); err != nil {
		return nil, fmt.Errorf("init index %q: %w", name, err)
	}
	if _, _, err := bf.metaIndex.Put(name, uint32(root)); err != nil {
		return nil, err
	}
	if err := bf.metaIndex.Flush(); err != nil {
		return nil, err
	}

	list, err := skiplist.Open(bf, root, bf.spanSize(), bf.listOptions(name)...)
	if err != nil {
		return nil, fmt.Errorf("open index %q: %w", name, err)
	}
	bf.openIndices[name] = list

	bf.logger.Debug("created index", zap.String("index", name), zap.Uint32("root", uint32(root)))

	return list, nil
}

func (bf *BlockFile) deleteList(name string) error {
	_, ok, err := bf.metaIndex.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	list, ok := bf.openIndices[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIndexClosed, name)
	}

	err = list.Delete()
	delete(bf.openIndices, name)
	if _, _, rerr := bf.metaIndex.Remove(name); rerr != nil {
		return multierr.Append(err, rerr)
	}
	if ferr := bf.metaIndex.Flush(); ferr != nil {
		return multierr.Append(err, ferr)
	}

	bf.logger.Debug("deleted index", zap.String("index", name))

	return err
}

func (bf *BlockFile) closeList(name string) error {
	list, ok := bf.openIndices[name]
	if !ok {
		return nil
	}
	delete(bf.openIndices, name)
	return list.Close()
}
