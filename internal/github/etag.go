package github

import lru "github.com/hashicorp/golang-lru/v2"

const defaultETagEntries = 256

type etagEntry struct {
	etag string
	body []byte
}

// etagCache remembers GET bodies by URL so a 304 Not Modified reply can
// be served locally without spending rate limit quota. Issue and contents
// URLs grow with the task backlog, so the least recently used entries are
// evicted past the size limit.
type etagCache struct {
	entries *lru.Cache[string, etagEntry]
}

func newETagCache(size int) *etagCache {
	if size <= 0 {
		size = defaultETagEntries
	}
	// lru.New only fails for a non-positive size.
	c, _ := lru.New[string, etagEntry](size)
	return &etagCache{entries: c}
}

func (c *etagCache) get(url string) (etagEntry, bool) {
	return c.entries.Get(url)
}

func (c *etagCache) put(url, etag string, body []byte) {
	if etag == "" {
		return
	}
	c.entries.Add(url, etagEntry{etag: etag, body: body})
}

func (c *etagCache) len() int { return c.entries.Len() }
