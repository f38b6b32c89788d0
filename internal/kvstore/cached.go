package kvstore

import (
	"context"

	"github.com/coocood/freecache"
)

// freecacheの最小容量とエントリごとのヘッダサイズ。
const (
	minCacheBytes    = 512 * 1024
	cacheEntryHeader = 24
)

// CachedStore は下位Storeの前段にfreecacheを置くデコレータ。
// 読み込みはキャッシュ優先、書き込みと削除は下位Storeに反映した後にキャッシュを更新する。
//
// freecacheは容量の1/1024を超えるエントリを保持できない。画像を含む記録一覧は
// 通常この上限を超えるため、キャッシュされるのは主にプロフィールなどの小さな値になる。
type CachedStore struct {
	next     Store
	cache    *freecache.Cache
	ttl      int
	maxEntry int
}

// NewCachedStore はCachedStoreを生成する。sizeBytesはfreecacheの容量、ttlSecondsは0で無期限。
func NewCachedStore(next Store, sizeBytes, ttlSeconds int) *CachedStore {
	if sizeBytes < minCacheBytes {
		sizeBytes = minCacheBytes
	}
	return &CachedStore{
		next:     next,
		cache:    freecache.NewCache(sizeBytes),
		ttl:      ttlSeconds,
		maxEntry: sizeBytes/1024 - cacheEntryHeader,
	}
}

// MaxEntrySize はキャッシュできるキーと値の合計バイト数の上限を返す。
func (s *CachedStore) MaxEntrySize() int {
	return s.maxEntry
}

func (s *CachedStore) cacheable(key string, value []byte) bool {
	return len(key)+len(value) <= s.maxEntry
}

// Get はキャッシュにあればそれを返し、無ければ下位Storeから読み込んでキャッシュする。
func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	if v, err := s.cache.Get([]byte(key)); err == nil {
		return v, true, nil
	}
	v, found, err := s.next.Get(ctx, key)
	if err != nil || !found {
		return v, found, err
	}
	if s.cacheable(key, v) {
		_ = s.cache.Set([]byte(key), v, s.ttl)
	}
	return v, true, nil
}

// Set は下位Storeに保存してからキャッシュを更新する。
func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.next.Set(ctx, key, value); err != nil {
		s.cache.Del([]byte(key))
		return err
	}
	if !s.cacheable(key, value) {
		s.cache.Del([]byte(key))
		return nil
	}
	if err := s.cache.Set([]byte(key), value, s.ttl); err != nil {
		s.cache.Del([]byte(key))
	}
	return nil
}

// Remove は下位Storeから削除し、キャッシュからも取り除く。
func (s *CachedStore) Remove(ctx context.Context, key string) error {
	s.cache.Del([]byte(key))
	return s.next.Remove(ctx, key)
}

// HitCount はキャッシュヒット数を返す。
func (s *CachedStore) HitCount() int64 {
	return s.cache.HitCount()
}

var _ Store = (*CachedStore)(nil)
