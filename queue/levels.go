package queue

import "slices"

// Level is a named lane of a queue
type Level struct {
	Name    string
	Weight  int
	Default bool
}

// levelSet keeps levels in declaration order. Re-declaring a level keeps
// its position and replaces its weight.
type levelSet struct {
	levels []Level
}

func (s *levelSet) declare(l Level) {
	if l.Weight < 1 {
		l.Weight = 1
	}
	for i := range s.levels {
		if s.levels[i].Name == l.Name {
			s.levels[i] = l
			return
		}
	}
	s.levels = append(s.levels, l)
}

func (s *levelSet) names() []string {
	if len(s.levels) == 0 {
		return nil
	}
	names := make([]string, len(s.levels))
	for i, l := range s.levels {
		names[i] = l.Name
	}
	return names
}

func (s *levelSet) weights() map[string]int {
	weights := make(map[string]int, len(s.levels))
	for _, l := range s.levels {
		weights[l.Name] = l.Weight
	}
	return weights
}

// flaggedDefault returns the last level declared as default
func (s *levelSet) flaggedDefault() string {
	name := ""
	for _, l := range s.levels {
		if l.Default {
			name = l.Name
		}
	}
	return name
}

// weightedOrder draws levels one at a time, each with probability
// proportional to its weight among the levels not drawn yet. draw returns
// a value in [0, n).
func (s *levelSet) weightedOrder(draw func(n int64) int64) []string {
	remaining := slices.Clone(s.levels)
	var total int64
	for _, l := range remaining {
		total += int64(l.Weight)
	}

	out := make([]string, 0, len(remaining))
	for len(remaining) > 0 {
		pick := draw(total)
		i := 0
		for ; i < len(remaining)-1; i++ {
			pick -= int64(remaining[i].Weight)
			if pick < 0 {
				break
			}
		}
		out = append(out, remaining[i].Name)
		total -= int64(remaining[i].Weight)
		remaining = slices.Delete(remaining, i, i+1)
	}
	return out
}
