package roi

import "strings"

// Validity is the filter state of a ROI. The numeric values are persisted.
type Validity uint16

const (
	Unknown            Validity = 0x00
	Valid              Validity = 0x01
	TooSmall           Validity = 0x02
	TooBig             Validity = 0x04
	TooLessCircularity Validity = 0x08
	TooLessOverlapping Validity = 0x10
	ReferenceSpot      Validity = 0x20
	AtTheEdge          Validity = 0x40
	ManualOutSorted    Validity = 0x80
	// PossibleWrongThreshold marks ROIs found with a threshold below the
	// histogram peak of their image.
	PossibleWrongThreshold Validity = 0x100
)

var validityNames = []struct {
	bit  Validity
	name string
}{
	{Valid, "valid"},
	{TooSmall, "too small"},
	{TooBig, "too big"},
	{TooLessCircularity, "too less circularity"},
	{TooLessOverlapping, "too less overlapping"},
	{ReferenceSpot, "reference spot"},
	{AtTheEdge, "at the edge"},
	{ManualOutSorted, "manual out sorted"},
	{PossibleWrongThreshold, "possible wrong threshold"},
}

// IsValid reports whether the ROI passed all filters.
func (v Validity) IsValid() bool {
	return v == Valid
}

// Has reports whether all bits of flag are set.
func (v Validity) Has(flag Validity) bool {
	return flag != 0 && v&flag == flag
}

func (v Validity) String() string {
	if v == Unknown {
		return "unknown"
	}
	var parts []string
	for _, n := range validityNames {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " | ")
}
