package registry

import (
	"fmt"
	"sort"
	"strings"

	"SignalFeed/internal/domain/models"
)

type mark uint8

const (
	unvisited mark = iota
	inProgress
	complete
)

// Validate rejects references to signals absent from the document and any
// dependency cycle, counting route signals as dependencies.
func Validate(signals map[string]*models.SignalDefinition) error {
	ids := sortedIDs(signals)

	for _, id := range ids {
		for _, dep := range signals[id].DependencyIDs() {
			if _, ok := signals[dep]; !ok {
				return &ValidationError{Kind: ErrUnknownSignal, SignalID: id, Detail: fmt.Sprintf("references %q", dep)}
			}
		}
	}

	marks := make(map[string]mark, len(signals))
	for _, id := range ids {
		if marks[id] != unvisited {
			continue
		}
		if cycle := findCycle(id, signals, marks); cycle != nil {
			return &ValidationError{Kind: ErrAggregationCycle, SignalID: cycle[0], Detail: strings.Join(cycle, " -> ")}
		}
	}
	return nil
}

type dfsFrame struct {
	id   string
	deps []string
	next int
}

// findCycle runs an iterative depth-first search from root and returns the
// cycle path when one is reachable.
func findCycle(root string, signals map[string]*models.SignalDefinition, marks map[string]mark) []string {
	stack := []*dfsFrame{{id: root, deps: signals[root].DependencyIDs()}}
	marks[root] = inProgress

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == len(top.deps) {
			marks[top.id] = complete
			stack = stack[:len(stack)-1]
			continue
		}
		dep := top.deps[top.next]
		top.next++

		switch marks[dep] {
		case complete:
		case inProgress:
			path := []string{}
			for i := range stack {
				if stack[i].id == dep {
					for _, f := range stack[i:] {
						path = append(path, f.id)
					}
					break
				}
			}
			return append(path, dep)
		default:
			marks[dep] = inProgress
			stack = append(stack, &dfsFrame{id: dep, deps: signals[dep].DependencyIDs()})
		}
	}
	return nil
}

func sortedIDs(signals map[string]*models.SignalDefinition) []string {
	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
