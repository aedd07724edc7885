package pipeline

// Sanitize drops every dependency that does not name a task in the same
// batch, keeping the order of the survivors. The input is left untouched.
func Sanitize(tasks []ValidatedTask) []ValidatedTask {
	known := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.ID] = struct{}{}
	}

	out := make([]ValidatedTask, len(tasks))
	for i, t := range tasks {
		deps := make([]string, 0, len(t.Dependencies))
		for _, d := range t.Dependencies {
			if _, ok := known[d]; ok {
				deps = append(deps, d)
			}
		}
		t.Dependencies = deps
		out[i] = t
	}
	return out
}
