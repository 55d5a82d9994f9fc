package normalizer

import "strconv"

// IDResolver hands out unique ids in call order. The first caller of a base
// slug keeps it; later callers get base-1, base-2, ... Suffixes are never
// reused, and a candidate already held by another product is skipped.
type IDResolver struct {
	next       map[string]int
	taken      map[string]struct{}
	collisions int
}

// NewIDResolver returns an empty resolver.
func NewIDResolver() *IDResolver {
	return &IDResolver{
		next:  make(map[string]int),
		taken: make(map[string]struct{}),
	}
}

// Resolve returns a unique id for base.
func (r *IDResolver) Resolve(base string) string {
	if _, seen := r.next[base]; !seen {
		if _, held := r.taken[base]; !held {
			r.next[base] = 1
			r.taken[base] = struct{}{}
			return base
		}
		r.next[base] = 1
	}

	r.collisions++
	for {
		counter := r.next[base]
		r.next[base] = counter + 1
		candidate := base + "-" + strconv.Itoa(counter)
		if _, held := r.taken[candidate]; held {
			continue
		}
		r.taken[candidate] = struct{}{}
		return candidate
	}
}

// Collisions reports how many ids needed a suffix.
func (r *IDResolver) Collisions() int {
	return r.collisions
}
