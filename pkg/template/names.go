package template

import "fmt"

// UniqueNames returns a unique name for each task, in order. The first task
// with a given objective keeps it; later ones get _2, _3, ...
func UniqueNames(tasks []*Task) []string {
	seen := make(map[string]int, len(tasks))
	out := make([]string, len(tasks))
	for i, t := range tasks {
		name := t.Name()
		seen[name]++
		if n := seen[name]; n > 1 {
			out[i] = fmt.Sprintf("%s_%d", name, n)
		} else {
			out[i] = name
		}
	}
	return out
}
