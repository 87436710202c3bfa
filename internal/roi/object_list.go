package roi

import (
	"sort"

	"imagec/internal/enums"
)

// DefaultCellSize is the edge length of one spatial index cell in pixels.
const DefaultCellSize = 100

type cell struct{ x, y int }

// ObjectList is the ordered sequence of ROIs of one processing unit. ROIs are
// also registered in a coarse grid so that overlap candidates between two
// lists are found without testing every pair.
type ObjectList struct {
	rois     []*ROI
	cellSize int
	grid     map[cell][]int
}

// NewObjectList creates an empty list.
func NewObjectList() *ObjectList {
	return &ObjectList{cellSize: DefaultCellSize, grid: map[cell][]int{}}
}

// Push appends a ROI. Insertion order is kept.
func (l *ObjectList) Push(r *ROI) {
	l.rois = append(l.rois, r)
	l.index(len(l.rois)-1, r)
}

func (l *ObjectList) index(i int, r *ROI) {
	if l.grid == nil {
		l.grid = map[cell][]int{}
	}
	for _, c := range l.cellsOf(r) {
		l.grid[c] = append(l.grid[c], i)
	}
}

func (l *ObjectList) cellsOf(r *ROI) []cell {
	if l.cellSize <= 0 {
		l.cellSize = DefaultCellSize
	}
	box := r.SnapAreaBBox()
	var cells []cell
	for x := floorDiv(box.X, l.cellSize); x <= floorDiv(box.Right(), l.cellSize); x++ {
		for y := floorDiv(box.Y, l.cellSize); y <= floorDiv(box.Bottom(), l.cellSize); y++ {
			cells = append(cells, cell{x, y})
		}
	}
	return cells
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// Len returns the number of ROIs.
func (l *ObjectList) Len() int { return len(l.rois) }

// At returns the i-th ROI.
func (l *ObjectList) At(i int) *ROI { return l.rois[i] }

// Rois returns the ROIs in insertion order. The slice must not be modified.
func (l *ObjectList) Rois() []*ROI { return l.rois }

// Filter keeps only the ROIs keep returns true for and rebuilds the index.
func (l *ObjectList) Filter(keep func(*ROI) bool) {
	kept := l.rois[:0]
	for _, r := range l.rois {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(l.rois); i++ {
		l.rois[i] = nil
	}
	l.rois = kept
	l.Reindex()
}

// Reindex rebuilds the spatial index. Needed after ROIs were moved.
func (l *ObjectList) Reindex() {
	l.grid = map[cell][]int{}
	for i, r := range l.rois {
		l.index(i, r)
	}
}

// Translate moves all ROIs by (dx, dy).
func (l *ObjectList) Translate(dx, dy int) {
	for _, r := range l.rois {
		r.Translate(dx, dy)
	}
	l.Reindex()
}

// Append moves all ROIs of other to the end of l.
func (l *ObjectList) Append(other *ObjectList) {
	for _, r := range other.rois {
		l.Push(r)
	}
}

// Clone returns a deep copy.
func (l *ObjectList) Clone() *ObjectList {
	c := NewObjectList()
	for _, r := range l.rois {
		c.Push(r.Clone())
	}
	return c
}

// Find returns the ROI with the given index.
func (l *ObjectList) Find(index uint32) (*ROI, bool) {
	for _, r := range l.rois {
		if r.Index == index {
			return r, true
		}
	}
	return nil, false
}

// Equal compares both lists element wise.
func (l *ObjectList) Equal(other *ObjectList) bool {
	if l.Len() != other.Len() {
		return false
	}
	for i := range l.rois {
		if !l.rois[i].Equal(other.rois[i]) {
			return false
		}
	}
	return true
}

// Candidates returns all pairs (a from l, b from other) whose snap boxes
// overlap. Pairs are ordered by the position of a, then b.
func (l *ObjectList) Candidates(other *ObjectList) [][2]*ROI {
	var pairs [][2]*ROI
	for _, a := range l.rois {
		seen := map[int]bool{}
		var hits []int
		for _, c := range other.cellsOf(a) {
			for _, j := range other.grid[c] {
				if !seen[j] {
					seen[j] = true
					hits = append(hits, j)
				}
			}
		}
		sort.Ints(hits)
		for _, j := range hits {
			b := other.rois[j]
			if a.SnapAreaBBox().Intersects(b.SnapAreaBBox()) {
				pairs = append(pairs, [2]*ROI{a, b})
			}
		}
	}
	return pairs
}

// ObjectMap holds one ObjectList per class.
type ObjectMap map[enums.ClassId]*ObjectList

// NewObjectMap creates an empty map.
func NewObjectMap() ObjectMap {
	return ObjectMap{}
}

// List returns the list of class, creating it when missing.
func (m ObjectMap) List(class enums.ClassId) *ObjectList {
	l, ok := m[class]
	if !ok {
		l = NewObjectList()
		m[class] = l
	}
	return l
}

// Push appends r to the list of its class.
func (m ObjectMap) Push(r *ROI) {
	m.List(r.ClassId()).Push(r)
}

// Classes returns the classes with at least one list, sorted ascending.
func (m ObjectMap) Classes() []enums.ClassId {
	classes := make([]enums.ClassId, 0, len(m))
	for c := range m {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Count returns the number of ROIs over all classes.
func (m ObjectMap) Count() int {
	n := 0
	for _, l := range m {
		n += l.Len()
	}
	return n
}

// Erase removes all ROIs of class.
func (m ObjectMap) Erase(class enums.ClassId) {
	delete(m, class)
}

// Flatten returns all ROIs in class order in a single list. The ROIs are shared.
func (m ObjectMap) Flatten() *ObjectList {
	out := NewObjectList()
	for _, c := range m.Classes() {
		out.Append(m[c])
	}
	return out
}

// Merge appends all lists of other to m.
func (m ObjectMap) Merge(other ObjectMap) {
	for _, c := range other.Classes() {
		m.List(c).Append(other[c])
	}
}

// Reclassify moves ROIs between lists after their class was changed in place.
func (m ObjectMap) Reclassify() {
	moved := NewObjectList()
	for _, c := range m.Classes() {
		l := m[c]
		l.Filter(func(r *ROI) bool {
			if r.ClassId() != c {
				moved.Push(r)
				return false
			}
			return true
		})
	}
	for _, r := range moved.Rois() {
		m.Push(r)
	}
}
