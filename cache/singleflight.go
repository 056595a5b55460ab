package cache

import "golang.org/x/sync/singleflight"

// Coalescer ensures at most one producer per key runs at a time; concurrent
// callers for the same key block on the in-flight call and share its
// result. golang.org/x/sync/singleflight.Group already provides exactly
// this acquire/produce/garbage-collect contract, so it is used directly
// rather than re-implemented.
type Coalescer struct {
	group singleflight.Group
}

// Do runs fn for key if no call for that key is already in flight;
// otherwise it waits for the in-flight call and returns its result too.
func (c *Coalescer) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := c.group.Do(key, fn)
	return v, err
}
