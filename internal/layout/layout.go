package layout

import (
	"sort"

	"timelinecal/internal/model"
)

const (
	fullWidthBP = 10000 // 100% in basis points

	defaultStackInsetPercent = 10
	// Cascading stops once only a quarter of the lane is left.
	maxStackInsetBP = 7500
)

// Options selects the layout mode and its tuning.
type Options struct {
	Mode model.OverlapType

	// MinStartDifference (minutes) makes two segments conflict when their
	// starts are closer than this, even if their ranges do not intersect.
	MinStartDifference int

	// StackInsetPercent is how far each stacking level is pushed right.
	// If zero, defaultStackInsetPercent is used.
	StackInsetPercent float64
}

type item struct {
	seg      model.Segment
	from, to int
	// reach is the first minute at which another segment no longer
	// conflicts with this one.
	reach int
}

// Pack lays out all segments of one day. Lanes (all-day vs timed, and each
// resource) never interact. The result is ordered by lane, then start
// ascending, duration descending, event id and instance key, and is a pure
// function of the input set: packing the same segments again yields the
// same placements.
func Pack(segs []model.Segment, opts Options) []model.PackedSegment {
	if len(segs) == 0 {
		return nil
	}
	if opts.Mode == "" {
		opts.Mode = model.OverlapNone
	}
	if opts.StackInsetPercent <= 0 {
		opts.StackInsetPercent = defaultStackInsetPercent
	}
	minDiff := opts.MinStartDifference
	if minDiff < 1 {
		minDiff = 1
	}

	items := make([]item, len(segs))
	for i, s := range segs {
		from, to := s.Interval()
		reach := to
		if from+minDiff > reach {
			reach = from + minDiff
		}
		items[i] = item{seg: s, from: from, to: to, reach: reach}
	}
	sort.Slice(items, func(i, j int) bool {
		return less(items[i], items[j])
	})

	out := make([]model.PackedSegment, len(items))
	for start := 0; start < len(items); {
		// One cluster: a run whose starts stay below the running reach.
		end, reach := start+1, items[start].reach
		for end < len(items) && items[end].seg.Lane() == items[start].seg.Lane() && items[end].from < reach {
			if items[end].reach > reach {
				reach = items[end].reach
			}
			end++
		}

		cluster := items[start:end]
		placements := make([]model.Placement, len(cluster))
		switch opts.Mode {
		case model.OverlapStack:
			stack(cluster, placements, minDiff, opts.StackInsetPercent)
		default:
			columns(cluster, placements)
		}
		for i := range cluster {
			out[start+i] = model.PackedSegment{Segment: cluster[i].seg, Placement: placements[i]}
		}
		start = end
	}
	return out
}

func less(a, b item) bool {
	la, lb := a.seg.Lane(), b.seg.Lane()
	if la.AllDay != lb.AllDay {
		return la.AllDay
	}
	if la.ResourceID != lb.ResourceID {
		return la.ResourceID < lb.ResourceID
	}
	if a.from != b.from {
		return a.from < b.from
	}
	if a.to-a.from != b.to-b.from {
		return a.to-a.from > b.to-b.from
	}
	if a.seg.EventID != b.seg.EventID {
		return a.seg.EventID < b.seg.EventID
	}
	return a.seg.InstanceKey < b.seg.InstanceKey
}

// columns assigns every member the smallest column whose previous occupant
// no longer conflicts. All members share the cluster's column count.
func columns(cluster []item, out []model.Placement) {
	var a allocator
	for i, it := range cluster {
		out[i].Column = a.assign(it.from, it.reach)
	}
	count := a.next
	width := fullWidthBP / count
	if width < 1 {
		width = 1
	}
	for i := range out {
		x := out[i].Column * width
		if x+width > fullWidthBP {
			x = fullWidthBP - width
		}
		out[i].Mode = model.OverlapNone
		out[i].ColumnCount = count
		out[i].WidthPercent = percent(width)
		out[i].XOffsetPercent = percent(x)
	}
}

// stack groups members whose starts fall within minDiff of a bucket's first
// start. Buckets take the lowest free stacking level, each level insets the
// bucket further right, and bucket members split what is left equally.
func stack(cluster []item, out []model.Placement, minDiff int, insetPercent float64) {
	stepBP := int(insetPercent * 100)
	var a allocator

	for start := 0; start < len(cluster); {
		anchor := cluster[start].from
		end, reach := start, 0
		for end < len(cluster) && cluster[end].from-anchor < minDiff {
			if cluster[end].reach > reach {
				reach = cluster[end].reach
			}
			end++
		}

		level := a.assign(anchor, reach)
		baseBP := level * stepBP
		if baseBP > maxStackInsetBP {
			baseBP = maxStackInsetBP
		}

		members := end - start
		widthBP := (fullWidthBP - baseBP) / members
		if widthBP < 1 {
			widthBP = 1
		}
		for i := 0; i < members; i++ {
			xBP := baseBP + i*widthBP
			if xBP+widthBP > fullWidthBP {
				xBP = fullWidthBP - widthBP
			}
			out[start+i] = model.Placement{
				Mode:           model.OverlapStack,
				Column:         i,
				ColumnCount:    members,
				StackLevel:     level,
				WidthPercent:   percent(widthBP),
				XOffsetPercent: percent(xBP),
			}
		}
		start = end
	}
}

func percent(bp int) float64 {
	return float64(bp) / 100
}
