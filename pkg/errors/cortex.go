package errors

// CortexError is a specialized error type for anchor-table operations: hash
// slot probing, resonance scans, and extension-chain walks. It embeds
// baseError to inherit standard error functionality and adds the context
// needed to diagnose which slot or seed was involved.
type CortexError struct {
	*baseError

	// seedID is the 128-bit identity (formatted as hex) being resolved when
	// the error occurred, empty when the operation wasn't seed-scoped.
	seedID string

	// slot is the cortex slot index involved in the error, if applicable.
	slot uint64

	// operation names the cortex operation in progress ("Probe", "Resonance",
	// "ExtensionWalk", "Insert", ...).
	operation string

	// probeDepth records how many slots had been visited before the error,
	// useful for diagnosing pathological probe chains.
	probeDepth int
}

// NewCortexError creates a new cortex-specific error with the provided context.
func NewCortexError(err error, code ErrorCode, msg string) *CortexError {
	return &CortexError{baseError: NewBaseError(err, code, msg)}
}

// Override base error methods to return *CortexError instead of *baseError
// so fluent chains keep their concrete type.

func (ce *CortexError) WithMessage(msg string) *CortexError {
	ce.baseError.WithMessage(msg)
	return ce
}

func (ce *CortexError) WithCode(code ErrorCode) *CortexError {
	ce.baseError.WithCode(code)
	return ce
}

func (ce *CortexError) WithDetail(key string, value any) *CortexError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithSeedID records which seed_id was being resolved.
func (ce *CortexError) WithSeedID(seedID string) *CortexError {
	ce.seedID = seedID
	return ce
}

// WithSlot records which cortex slot was involved.
func (ce *CortexError) WithSlot(slot uint64) *CortexError {
	ce.slot = slot
	return ce
}

// WithOperation records which cortex operation was in progress.
func (ce *CortexError) WithOperation(operation string) *CortexError {
	ce.operation = operation
	return ce
}

// WithProbeDepth records how many slots were visited before failing.
func (ce *CortexError) WithProbeDepth(depth int) *CortexError {
	ce.probeDepth = depth
	return ce
}

func (ce *CortexError) SeedID() string     { return ce.seedID }
func (ce *CortexError) Slot() uint64       { return ce.slot }
func (ce *CortexError) Operation() string  { return ce.operation }
func (ce *CortexError) ProbeDepth() int    { return ce.probeDepth }

// NewTableFullError creates an error for a cortex insert whose bounded probe
// sequence (probeDepth slots) found no free slot.
func NewTableFullError(seedID string, probeDepth int) *CortexError {
	return NewCortexError(nil, ErrorCodeCortexTableFull, "anchor table has no free slot for seed").
		WithSeedID(seedID).
		WithOperation("Insert").
		WithProbeDepth(probeDepth)
}

// NewCortexCorruptionError creates an error for a slot whose checksum failed
// during a probe or resonance scan.
func NewCortexCorruptionError(slot uint64, operation string, cause error) *CortexError {
	return NewCortexError(cause, ErrorCodeCortexCorrupted, "anchor slot failed checksum validation").
		WithSlot(slot).
		WithOperation(operation)
}
