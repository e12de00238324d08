package discovery

import "time"

// Diff is the difference between two snapshots of the same service,
// computed by instance identity.
type Diff struct {
	Added   []ServiceInstance
	Removed []ServiceInstance
	// Changed holds the new version of instances whose fields differ.
	Changed []ServiceInstance
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ComputeDiff compares prev and next. Both are expected to come from
// NewSnapshot, so instances are unique and ordered by ID.
func ComputeDiff(prev, next CatalogSnapshot) Diff {
	var d Diff
	i, j := 0, 0
	for i < len(prev.Instances) && j < len(next.Instances) {
		p, n := prev.Instances[i], next.Instances[j]
		switch {
		case p.InstanceID == n.InstanceID:
			if !p.Equal(n) {
				d.Changed = append(d.Changed, n)
			}
			i++
			j++
		case p.InstanceID < n.InstanceID:
			d.Removed = append(d.Removed, p)
			i++
		default:
			d.Added = append(d.Added, n)
			j++
		}
	}
	d.Removed = append(d.Removed, prev.Instances[i:]...)
	d.Added = append(d.Added, next.Instances[j:]...)
	return d
}

// ChangeEvent is published to subscribers whenever the cached view of a
// service changes.
type ChangeEvent struct {
	Service string
	Index   uint64
	Diff
	// Initial marks the first population of the service.
	Initial bool
	At      time.Time
}
