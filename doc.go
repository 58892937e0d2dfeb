/*
Package cobblekv provides an embedded, ordered, durable key/value store
behind a small handle-based API.

Every object is an opaque handle created by a constructor and released by
exactly one matching call: Open and DB.Close, NewOptions and
Options.Destroy, DB.CreateIterator and Iterator.Destroy,
DB.CreateSnapshot and DB.ReleaseSnapshot, and so on. Using a handle after
it was released is a caller error.

# Errors

Calls that can fail take an errptr *string. On success it is left alone.
On failure it is overwritten with a newly allocated message such as
"IO error: ..." or "Corruption: ...". A key that does not exist is not a
failure: Get returns nil and leaves errptr untouched.

	var errmsg string
	opts := cobblekv.NewOptions()
	opts.SetCreateIfMissing(true)
	db := cobblekv.Open(opts, "/tmp/example", &errmsg)
	if errmsg != "" {
	    log.Fatal(errmsg)
	}
	defer db.Close()

	wo := cobblekv.NewWriteOptions()
	db.Put(wo, []byte("key"), []byte("value"), &errmsg)

	ro := cobblekv.NewReadOptions()
	value := db.Get(ro, []byte("key"), &errmsg)

# Concurrency

A DB is safe for concurrent use. Writes are applied one at a time in an
unspecified but total order. Iterators and write batches are not safe for
concurrent use. Closing a DB releases every iterator and snapshot still
derived from it.

# Shared Objects

A Cache or an Env may be used by several databases. Each open DB keeps its
own reference, so destroying the creator's handle while databases are
still open is safe.

The Go engine behind this API lives in package db.
*/
package cobblekv
