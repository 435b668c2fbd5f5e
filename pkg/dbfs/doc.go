// Package dbfs stores a virtual filesystem inside the metadata database.
//
// The tree is made of nodes (directories or files) connected by membership edges
// that point from a child to exactly one parent directory. File nodes reference
// deduplicated content records keyed by a 256-bit content hash; the bytes of a
// record are either kept inline in the database or in the sharded blob store on
// disk.
//
// A handful of well-known directories exist from the moment the schema is created
// and never have to be built: the root (0), tmp (-2), artifacts (-3), cleanup (-4)
// and tmp/import (-129).
//
// Every mutating operation runs inside a transaction. When a FS is bound to an
// open transaction through WithTx, operations join it using savepoints instead of
// opening their own.
package dbfs
