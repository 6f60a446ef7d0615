// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package sim

import "github.com/pkg/errors"

// Topology returns the edge list of a named topology of n nodes: "line",
// "ring", "star" (node 0 at the center) or "full".
//
func Topology(name string, n int) ([]Edge, error) {
	if n < 1 {
		return nil, errors.Errorf("invalid node count %d", n)
	}
	var es []Edge
	switch name {
	case "line", "ring":
		for i := 1; i < n; i++ {
			es = append(es, Edge{i - 1, i})
		}
		if name == "ring" && n > 2 {
			es = append(es, Edge{n - 1, 0})
		}
	case "star":
		for i := 1; i < n; i++ {
			es = append(es, Edge{0, i})
		}
	case "full":
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				es = append(es, Edge{i, j})
			}
		}
	default:
		return nil, errors.Errorf("unknown topology %q", name)
	}
	return es, nil
}

// Degrees returns the number of edges of each of n nodes.
//
func Degrees(n int, edges []Edge) []int {
	ds := make([]int, n)
	for _, e := range edges {
		if e.A >= 0 && e.A < n {
			ds[e.A]++
		}
		if e.B >= 0 && e.B < n {
			ds[e.B]++
		}
	}
	return ds
}
