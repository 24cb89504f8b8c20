package store

import "github.com/iov-one/torasuri"

// Move references for all storage types into this package
// for shorter names everywhere

type KVStore = torasuri.KVStore
type ReadOnlyKVStore = torasuri.ReadOnlyKVStore
type Iterator = torasuri.Iterator
type Batch = torasuri.Batch
type SetDeleter = torasuri.SetDeleter
