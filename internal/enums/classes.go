// Package enums holds the identifiers shared by all pipeline components:
// class tags, plane and tile coordinates, memory slots and stack handling modes.
package enums

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ClassId is the 16-bit tag assigned to a ROI.
type ClassId uint16

const (
	// MaxUserClassId is the last class a user can configure.
	MaxUserClassId ClassId = 49

	ReservedForTempStart ClassId = 0x400
	ReservedForTempEnd   ClassId = 0x710

	ClassNone      ClassId = 0xFFFD
	ClassUndefined ClassId = 0xFFFE
)

// IsUserClass reports whether c is in the user configurable range.
func (c ClassId) IsUserClass() bool {
	return c <= MaxUserClassId
}

// IsTemporary reports whether c lies in the range reserved for resolved temporaries.
func (c ClassId) IsTemporary() bool {
	return c >= ReservedForTempStart && c <= ReservedForTempEnd
}

func (c ClassId) String() string {
	switch c {
	case ClassNone:
		return "None"
	case ClassUndefined:
		return "Undefined"
	}
	if c.IsTemporary() {
		return fmt.Sprintf("Temp%03d", int(c-ReservedForTempStart))
	}
	return fmt.Sprintf("C%d", int(c))
}

// ClassIdIn is a class reference as written in the settings. It shares the
// ClassId tag space and adds scratch slots and the $ placeholder.
type ClassIdIn uint16

const (
	ClassInTemp01   ClassIdIn = 0xFFF0
	ClassInTemp02   ClassIdIn = 0xFFF1
	ClassInTemp03   ClassIdIn = 0xFFF2
	ClassInTemp04   ClassIdIn = 0xFFF3
	ClassInTempLast ClassIdIn = 0xFFF4

	ClassInNone      ClassIdIn = 0xFFFD
	ClassInUndefined ClassIdIn = 0xFFFE
	// ClassInDefault is replaced with the pipeline default class at execute time.
	ClassInDefault ClassIdIn = 0xFFFF
)

// NrOfTempSlots is the number of scratch slots a pipeline can address.
const NrOfTempSlots = int(ClassInTempLast-ClassInTemp01) + 1

// IsTemp reports whether c addresses a scratch slot.
func (c ClassIdIn) IsTemp() bool {
	return c >= ClassInTemp01 && c <= ClassInTempLast
}

// TempSlot returns the zero based scratch slot index.
func (c ClassIdIn) TempSlot() int {
	return int(c - ClassInTemp01)
}

var classInNames = map[ClassIdIn]string{
	ClassInTemp01:    "M01",
	ClassInTemp02:    "M02",
	ClassInTemp03:    "M03",
	ClassInTemp04:    "M04",
	ClassInTempLast:  "M05",
	ClassInNone:      "None",
	ClassInUndefined: "Undefined",
	ClassInDefault:   "$",
}

func (c ClassIdIn) String() string {
	if name, ok := classInNames[c]; ok {
		return name
	}
	return ClassId(c).String()
}

// ParseClassIdIn accepts "$", "None", "Undefined", "M01".."M05", "C<n>" or a plain number.
func ParseClassIdIn(s string) (ClassIdIn, error) {
	s = strings.TrimSpace(s)
	for id, name := range classInNames {
		if strings.EqualFold(s, name) {
			return id, nil
		}
	}
	num := strings.TrimPrefix(strings.TrimPrefix(s, "C"), "c")
	v, err := strconv.ParseUint(num, 10, 16)
	if err != nil {
		return ClassInUndefined, fmt.Errorf("invalid class id %q", s)
	}
	return ClassIdIn(v), nil
}

// MarshalJSON writes user classes as numbers and special values as names.
func (c ClassIdIn) MarshalJSON() ([]byte, error) {
	if name, ok := classInNames[c]; ok {
		return json.Marshal(name)
	}
	return json.Marshal(uint16(c))
}

// UnmarshalJSON accepts either a number or a name.
func (c *ClassIdIn) UnmarshalJSON(data []byte) error {
	var num uint16
	if err := json.Unmarshal(data, &num); err == nil {
		*c = ClassIdIn(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("class id: %w", err)
	}
	v, err := ParseClassIdIn(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
