package runner

import (
	"context"

	"github.com/FocuswithJustin/parseweb/core/cache"
)

// normalizer is implemented by invokers that rewrite the text before
// running it. Cached keys on the rewritten text so that inputs the parser
// sees as identical share one entry.
type normalizer interface {
	Normalize(text string) string
}

// Cached memoizes successful results of another Invoker.
type Cached struct {
	next  Invoker
	cache *cache.Cache[string, *Result]
}

// NewCached wraps next with c. Only runs that exit with status 0 are stored.
func NewCached(next Invoker, c *cache.Cache[string, *Result]) *Cached {
	return &Cached{next: next, cache: c}
}

// ResultSize weighs a result by its captured output.
func ResultSize(r *Result) int64 {
	return int64(len(r.Stdout) + len(r.Stderr))
}

// Invoke returns a cached result for the same selection and text, or runs next.
func (c *Cached) Invoke(ctx context.Context, req Request) (*Result, error) {
	text := req.Text
	if n, ok := c.next.(normalizer); ok {
		text = n.Normalize(text)
	}
	key := req.Name + "\x00" + HashText(text)

	if res, ok := c.cache.Get(key); ok {
		cp := *res
		return &cp, nil
	}

	res, err := c.next.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 {
		cp := *res
		c.cache.Put(key, &cp)
	}
	return res, nil
}

// Stats exposes the underlying cache statistics.
func (c *Cached) Stats() cache.Stats {
	return c.cache.Stats()
}
