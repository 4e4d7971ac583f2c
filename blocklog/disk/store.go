package disk

import (
	"context"

	"github.com/meigma/blobstream"
)

// Interface compliance.
var _ blobstream.Store = (*Store)(nil)

// Store serves blocks of a source store through a Cache. Blocks missing
// from the cache are fetched from the source and written back; blocks the
// source reports as absent are not cached.
type Store struct {
	src      blobstream.Store
	cache    *Cache
	sourceID string
}

type fetchResult struct {
	block []byte
	ok    bool
}

// Ready delegates to the source.
func (s *Store) Ready(ctx context.Context) error {
	return s.src.Ready(ctx)
}

// Len delegates to the source.
func (s *Store) Len() int64 {
	return s.src.Len()
}

// ByteLen delegates to the source.
func (s *Store) ByteLen() int64 {
	return s.src.ByteLen()
}

// Get returns block index from the cache, fetching it from the source on a
// miss. Concurrent requests for one block share a single fetch, which runs
// to completion even if the caller that started it gives up, so the block
// still lands in the cache.
func (s *Store) Get(ctx context.Context, index int64) ([]byte, bool, error) {
	if index < 0 {
		return nil, false, nil
	}
	key := s.cache.blockKeyHex(s.sourceID, index)
	fetchCtx := context.WithoutCancel(ctx)

	ch := s.cache.fetchGroup.DoChan(key, func() (any, error) {
		path := s.cache.pathForKey(key)
		block, ok, err := s.cache.readBlock(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return fetchResult{block: block, ok: true}, nil
		}

		block, ok, err = s.src.Get(fetchCtx, index)
		if err != nil || !ok {
			return fetchResult{}, err
		}
		// Cache writes are opportunistic and never fail the read.
		if err := s.cache.writeBlock(path, block); err != nil {
			s.cache.log().Debug("block cache write failed", "block", index, "error", err)
		}
		return fetchResult{block: block, ok: true}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(fetchResult) //nolint:errcheck // type assertion always succeeds when err is nil
		return r.block, r.ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Seek delegates to the source.
func (s *Store) Seek(ctx context.Context, byteOffset int64, r blobstream.SeekRange) (int64, int64, bool, error) {
	return s.src.Seek(ctx, byteOffset, r)
}

// CanPrefetch delegates to the source.
func (s *Store) CanPrefetch() bool {
	return s.src.CanPrefetch()
}

// Close closes the source. The cache stays usable by other stores.
func (s *Store) Close() error {
	return s.src.Close()
}
