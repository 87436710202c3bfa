package enums

import (
	"fmt"
	"strings"
)

// StackHandling selects how a pipeline iterates over the Z or T axis.
type StackHandling int

const (
	// StackExactOne processes a single selected index.
	StackExactOne StackHandling = iota
	// StackEachIndividual runs one iteration per index.
	StackEachIndividual
	// StackIntensityProjection folds all Z planes inside the image loader. Only valid for Z.
	StackIntensityProjection
)

var stackHandlingNames = map[StackHandling]string{
	StackExactOne:            "EXACT_ONE",
	StackEachIndividual:      "EACH_INDIVIDUAL",
	StackIntensityProjection: "INTENSITY_PROJECTION",
}

func (s StackHandling) String() string {
	if name, ok := stackHandlingNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s StackHandling) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StackHandling) UnmarshalText(text []byte) error {
	for k, v := range stackHandlingNames {
		if strings.EqualFold(v, string(text)) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown stack handling %q", string(text))
}

// MemoryScope selects how long a stored memory slot survives.
type MemoryScope int

const (
	// ScopePipeline keeps the slot for all tiles and planes of one pipeline run.
	ScopePipeline MemoryScope = iota
	// ScopeIteration purges the slot at the end of one (t,z,c,tile) iteration.
	ScopeIteration
)

func (s MemoryScope) String() string {
	if s == ScopeIteration {
		return "ITERATION"
	}
	return "PIPELINE"
}

func (s MemoryScope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MemoryScope) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "PIPELINE":
		*s = ScopePipeline
	case "ITERATION":
		*s = ScopeIteration
	default:
		return fmt.Errorf("unknown memory scope %q", string(text))
	}
	return nil
}

// InOut is the kind of data a pipeline step consumes or produces.
type InOut int

const (
	IOImage InOut = iota
	IOBinary
	IOObject
	IOOutputEqualToInput
)

func (io InOut) String() string {
	switch io {
	case IOImage:
		return "IMAGE"
	case IOBinary:
		return "BINARY"
	case IOObject:
		return "OBJECT"
	case IOOutputEqualToInput:
		return "OUTPUT_EQUAL_TO_INPUT"
	default:
		return "UNKNOWN"
	}
}

// InOuts is the signature of one step: the accepted inputs and the produced output.
type InOuts struct {
	In  []InOut
	Out InOut
}

// Accepts reports whether in is one of the accepted input kinds.
func (s InOuts) Accepts(in InOut) bool {
	for _, v := range s.In {
		if v == in || v == IOOutputEqualToInput {
			return true
		}
	}
	return false
}

// ResolveOut returns the produced kind given the kind that was fed in.
func (s InOuts) ResolveOut(in InOut) InOut {
	if s.Out == IOOutputEqualToInput {
		return in
	}
	return s.Out
}
