// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"fmt"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
)

// Static reports both device kinds on a fixed number of nodes. It pairs with
// the fake firmware on machines without uncore PMUs.
type Static struct {
	nodes int
}

var (
	_ pmu.Discoverer = (*Static)(nil)
	_ pmu.Topology   = (*Static)(nil)
)

func NewStatic(nodes int) *Static {
	return &Static{nodes: nodes}
}

func (s *Static) Discover() ([]pmu.Descriptor, error) {
	if s.nodes <= 0 {
		return nil, fmt.Errorf("invalid node count %d", s.nodes)
	}

	descs := make([]pmu.Descriptor, 0, s.nodes*len(pmu.Kinds))
	for node := range s.nodes {
		for _, kind := range pmu.Kinds {
			descs = append(descs, pmu.Descriptor{
				Node: node,
				Kind: kind,
				Base: fmt.Sprintf("static:%d", node),
			})
		}
	}
	return descs, nil
}

// AffinityCPU maps every static node to cpu 0, which exists on any machine
func (s *Static) AffinityCPU(node int) (int, error) {
	if node < 0 || node >= s.nodes {
		return -1, fmt.Errorf("node %d out of range [0, %d)", node, s.nodes)
	}
	return 0, nil
}
