package convert

import "sort"

// order sorts classes so that each comes after every class it requires.
// Ties break by name. Classes on a cycle cannot be ordered; they are returned
// separately, sorted, and the caller appends them last.
func order(classes []string, deps map[string][]string) (sorted, cyclic []string) {
	indegree := make(map[string]int, len(classes))
	dependents := make(map[string][]string, len(classes))
	for _, c := range classes {
		indegree[c] += 0
		for _, d := range deps[c] {
			indegree[c]++
			dependents[d] = append(dependents[d], c)
		}
	}

	var ready []string
	for _, c := range classes {
		if indegree[c] == 0 {
			ready = append(ready, c)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		c := ready[0]
		ready = ready[1:]
		sorted = append(sorted, c)

		var next []string
		for _, dep := range dependents[c] {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		if len(next) > 0 {
			ready = append(ready, next...)
			sort.Strings(ready)
		}
	}

	if len(sorted) == len(classes) {
		return sorted, nil
	}
	done := make(map[string]bool, len(sorted))
	for _, c := range sorted {
		done[c] = true
	}
	for _, c := range classes {
		if !done[c] {
			cyclic = append(cyclic, c)
		}
	}
	sort.Strings(cyclic)
	return sorted, cyclic
}
