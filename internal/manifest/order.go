package manifest

import "slices"

// StartOrder sorts services so that every linked service comes before the
// services linking to it (Kahn's algorithm). Services that are ready at the
// same time keep their declaration order.
//
// Example: rust links postgres, so
//
//	m.StartOrder() // [postgres rust]
func (m *Manifest) StartOrder() []Service {
	pos := make(map[string]int, len(m.Services))
	for i, s := range m.Services {
		pos[s.Name] = i
	}

	inDegree := make([]int, len(m.Services))
	dependents := make([][]int, len(m.Services))
	for i, s := range m.Services {
		for _, l := range s.Links {
			j, ok := pos[l.Service]
			if !ok || j == i {
				continue
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Service, 0, len(m.Services))
	done := make([]bool, len(m.Services))
	for len(ready) > 0 {
		slices.Sort(ready)
		i := ready[0]
		ready = ready[1:]

		ordered = append(ordered, m.Services[i])
		done[i] = true

		for _, d := range dependents[i] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	// Parse rejects cycles; anything left over keeps declaration order.
	for i, s := range m.Services {
		if !done[i] {
			ordered = append(ordered, s)
		}
	}

	return ordered
}

// StopOrder is StartOrder reversed: dependents stop before what they link to.
func (m *Manifest) StopOrder() []Service {
	order := m.StartOrder()
	slices.Reverse(order)
	return order
}
