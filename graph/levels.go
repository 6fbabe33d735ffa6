package graph

import (
	"fmt"
	"sort"

	"github.com/kbukum/streamsight/errors"
)

// Levels groups the snapshot's instances by flow level: sources are level
// 0, and an instance joins a level only once all of its upstream instances
// sit in earlier levels, so each level's output rates can be derived before
// the next level's arrivals. Levels are computed once per snapshot and
// memoized.
//
// A cyclic flow graph can never be leveled; it is rejected as an
// unsupported shape.
func (s *Snapshot) Levels() ([][]int, error) {
	s.levelsOnce.Do(func() {
		s.levels, s.levelsErr = buildLevels(s)
	})
	return s.levels, s.levelsErr
}

// buildLevels runs Kahn's algorithm over the logical edges.
func buildLevels(s *Snapshot) ([][]int, error) {
	inDegree := make(map[int]int, len(s.instances))
	for task := range s.instances {
		inDegree[task] = 0
	}
	for task, edges := range s.in {
		inDegree[task] = len(edges)
	}

	var queue []int
	for task, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, task)
		}
	}
	sort.Ints(queue)

	var levels [][]int
	visited := 0
	for len(queue) > 0 {
		levels = append(levels, queue)
		visited += len(queue)

		var next []int
		ready := make(map[int]bool)
		for _, task := range queue {
			for _, e := range s.out[task] {
				inDegree[e.DestTask]--
				if inDegree[e.DestTask] == 0 && !ready[e.DestTask] {
					ready[e.DestTask] = true
					next = append(next, e.DestTask)
				}
			}
		}
		sort.Ints(next)
		queue = next
	}

	if visited != len(s.instances) {
		return nil, errors.UnsupportedTopology(fmt.Sprintf(
			"flow graph of %s contains a cycle: only %d of %d instances can be ordered",
			s.Topology, visited, len(s.instances)))
	}
	return levels, nil
}
