package registration

// Compose resolves every tile's translation into its component root's frame:
// global(root) = 0 and global(t) = T(t, a[t]) + global(a[t]). Resolved tiles
// are memoized so each chain is walked once. Every non-root link must already
// be in the cache.
func Compose(assign Assignment, cache *MatchCache) ([]Vec, error) {
	n := len(assign)
	global := make([]Vec, n)
	resolved := make([]bool, n)
	path := make([]int, 0, 16)

	for t := range assign {
		path = path[:0]
		cur := t
		for !resolved[cur] {
			ref := assign[cur]
			if ref == cur || ref == Unmatched {
				global[cur] = Vec{}
				resolved[cur] = true
				break
			}
			if len(path) >= n {
				return nil, internalError("reference chain from tile %d does not reach a root", t)
			}
			path = append(path, cur)
			cur = ref
		}
		for k := len(path) - 1; k >= 0; k-- {
			c := path[k]
			est, ok := cache.Lookup(c, assign[c])
			if !ok {
				return nil, internalError("no cached estimate for attachment %d -> %d", c, assign[c])
			}
			global[c] = est.Translation.Add(global[assign[c]])
			resolved[c] = true
		}
	}
	return global, nil
}
