// Package blobstream exposes a blob stored inside an append-only block log
// as a pull-based byte stream.
//
// A blob is a contiguous byte range made of consecutive blocks. An [ID]
// locates it inside a [Store]: the block range it spans and where its first
// byte sits in the store's byte-addressed view. [Stream] walks the block
// range, trims partial first and last blocks, and hides per-block fetch
// latency with a bounded read-ahead window.
//
// # Quick Start
//
// Stream bytes 100 through 199 of a blob:
//
//	s := blobstream.New(store, &id,
//	    blobstream.WithStart(100),
//	    blobstream.WithLength(100),
//	)
//	defer s.Close()
//	_, err := io.Copy(w, s)
//
// Stream a whole store as one blob:
//
//	s := blobstream.One(store)
//
// # Deferred Binding
//
// A stream may be created before its store or identifier exist. The first
// pull waits until [Stream.Start] supplies them:
//
//	s := blobstream.New(nil, nil, blobstream.WithStart(2))
//	go consume(s)
//	// later
//	err := s.Start(store, id)
//
// The stream owns the store handle it is bound to and closes it on teardown.
package blobstream
