package grouping

// DefaultMaxPax is the capacity of one guide when a group does not say otherwise.
const DefaultMaxPax = 9

// PackItem is one tour offered to the packer.
type PackItem struct {
	TourID uint
	Pax    int
}

// PackSubGroups splits a cluster into capacity-bounded sub-groups, greedily
// and in input order. A sub-group is closed when the next item would push it
// over maxPax; an item larger than maxPax still gets a sub-group of its own,
// so every item lands in exactly one sub-group and none is empty.
func PackSubGroups(items []PackItem, maxPax int) [][]PackItem {
	if maxPax <= 0 {
		maxPax = DefaultMaxPax
	}
	var (
		out     [][]PackItem
		current []PackItem
		total   int
	)
	for _, it := range items {
		pax := it.Pax
		if pax < 0 {
			pax = 0
		}
		if len(current) > 0 && total+pax > maxPax {
			out = append(out, current)
			current, total = nil, 0
		}
		current = append(current, it)
		total += pax
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// SubGroupPax sums a sub-group.
func SubGroupPax(items []PackItem) int {
	total := 0
	for _, it := range items {
		if it.Pax > 0 {
			total += it.Pax
		}
	}
	return total
}
