//go:generate flatc --go --go-namespace fb -o internal schema/table.fbs

// Package blocklog provides an append-only, content-addressed block log and
// the block table that describes it.
//
// Every block is stored with its length and digest. The [Table] holds that
// metadata and resolves byte offsets to blocks; it can be serialized with
// FlatBuffers so remote readers (see the http subpackage) can fetch blocks
// by byte range without the log itself.
//
// [Log] keeps block data in memory. Readers obtain a [Session], which
// implements blobstream.Store:
//
//	log := blocklog.New()
//	_, _ = log.Append([]byte("hello"), []byte("world"))
//	s := blobstream.One(log.Session())
package blocklog
