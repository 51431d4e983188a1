package phasebarrier

import "sync/atomic"

// MaxParticipants is the largest number of participants a single barrier
// may register at once. It is fixed by the width of the current/total
// fields packed into the state word and cannot be raised at runtime.
const MaxParticipants = 1<<15 - 1 // 32767

// Packed layout of the 32-bit state word:
//
//	bit  31      sense    0 => "even" sense, 1 => "odd" sense
//	bits 30..16  current  arrivals observed so far in the current phase
//	bit  15      --       reserved, always zero
//	bits 14..0   total    registered participant count
const (
	senseShift   = 31
	currentShift = 16
	currentMask  = uint32(MaxParticipants) << currentShift
	totalMask    = uint32(MaxParticipants)
)

// decodeState splits a packed state word into its three fields.
func decodeState(word uint32) (current, total uint32, sense bool) {
	current = (word & currentMask) >> currentShift
	total = word & totalMask
	sense = word>>senseShift&1 != 0
	return
}

// encodeState packs (current, total, sense) into a single atomic word. It
// panics if current or total would not fit in their respective fields,
// which would indicate a logic error upstream since both are validated
// against MaxParticipants before every call site.
func encodeState(current, total uint32, sense bool) uint32 {
	if current > MaxParticipants || total > MaxParticipants {
		panic("phasebarrier: state field overflow")
	}
	word := current<<currentShift | total
	if sense {
		word |= 1 << senseShift
	}
	return word
}

// packedState is the barrier's single atomic word of mutable arrival state,
// plus the compare-and-swap helper every mutation funnels through.
type packedState struct {
	word atomic.Uint32
}

func newPackedState(total uint32, sense bool) packedState {
	var s packedState
	s.word.Store(encodeState(0, total, sense))
	return s
}

func (s *packedState) load() (current, total uint32, sense bool) {
	return decodeState(s.word.Load())
}

// tryStore attempts to replace expected with the word encoding
// (current, total, sense). It reports whether the swap succeeded; on
// failure the caller should re-read the state and retry.
func (s *packedState) tryStore(expected, current, total uint32, sense bool) bool {
	return s.word.CompareAndSwap(expected, encodeState(current, total, sense))
}
