package walker

// Flags fix an iterator's behavior for the lifetime of one walk, plus two
// state bits reported back through Advance. The mode sets are chosen by the
// construction entry points and never change mid-walk.
type Flags uint32

const (
	// ApplyReturnAddressAdjustment backs each reported control address up
	// by one byte. A return address points at the instruction after a
	// call; exception dispatch needs the lookup to stay inside the calling
	// instruction's own protected region rather than spill into a region
	// that begins exactly at the return address.
	ApplyReturnAddressAdjustment Flags = 1 << iota

	// CollapseFunclets surfaces a single callback frame for a method
	// activation that has funclet frames chained beneath it: the most
	// nested physical frame. GC root reporting for the activation then
	// happens exactly once.
	CollapseFunclets

	// ExCollide is a state bit set by an advance that crossed an
	// exception-info record.
	ExCollide

	// RemapHardwareFaultsToSafePoint reports a hardware-fault frame at the
	// GC safe point the code generator placed after the prologue of the
	// nearest enclosing handler, instead of at the faulting instruction.
	RemapHardwareFaultsToSafePoint

	// MethodStateCalculated tracks whether the cached method metadata is
	// valid for the current control address.
	MethodStateCalculated

	// UnwoundReverseNativeCall is a state bit set by an advance that unwound
	// a reverse-native-call transition; scanning conventions change beyond
	// that point.
	UnwoundReverseNativeCall
)

const (
	// GCStackWalkFlags is the mode for GC root scans.
	GCStackWalkFlags = CollapseFunclets | RemapHardwareFaultsToSafePoint
	// EHStackWalkFlags is the mode for exception-handling walks.
	EHStackWalkFlags = ApplyReturnAddressAdjustment
	// StackTraceStackWalkFlags is the mode for diagnostic trace capture:
	// activations collapse like a GC walk, but a fault address is reported
	// as-is, since a trace wants the faulting instruction.
	StackTraceStackWalkFlags = CollapseFunclets
)
