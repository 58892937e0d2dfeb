// Package db provides an embedded, ordered key-value store.
//
// Keys and values are arbitrary byte slices. Keys are kept sorted by a
// pluggable Comparator. Every successful Write advances the database
// version by one and makes all of its operations visible at once.
// Snapshots and iterators read a fixed version while writers continue.
//
// # Quick Start
//
//	opts := db.DefaultOptions()
//	opts.CreateIfMissing = true
//	database, err := db.Open("/path/to/db", opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer database.Close()
//
//	err = database.Put(db.DefaultWriteOptions(), []byte("key"), []byte("value"))
//	value, err := database.Get(nil, []byte("key"))
//	if errors.Is(err, db.ErrNotFound) {
//	    // absent
//	}
//
// # Batch Writes
//
//	wb := db.NewWriteBatch()
//	wb.Put([]byte("a"), []byte("1"))
//	wb.Delete([]byte("b"))
//	err := database.Write(db.DefaultWriteOptions(), wb)
//
// Within a batch the last operation on a key wins.
//
// # Iteration
//
//	iter := database.NewIterator(nil)
//	defer iter.Close()
//	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
//	    fmt.Printf("%s: %s\n", iter.Key(), iter.Value())
//	}
//	if err := iter.Error(); err != nil {
//	    ...
//	}
//
// An iterator sees the database as it was when the iterator was created.
//
// # Snapshots
//
//	snap := database.GetSnapshot()
//	defer database.ReleaseSnapshot(snap)
//	value, err := database.Get(&db.ReadOptions{Snapshot: snap}, []byte("key"))
//
// # Storage Engines
//
// Persistence is delegated to a storage engine chosen with Options.Engine:
// "table" (the default) keeps a write-ahead log, sorted table files and a
// manifest; "leveldb" stores everything in a goleveldb database.
package db
