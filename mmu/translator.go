package mmu

// Translator is implemented by every guest address translation unit (TLB,
// page table walker, BAT registers ...).
type Translator interface {

	// Translate maps vaddr to a physical address.
	//
	// On failure the returned error is a *faults.Fault. Unless NoExceptions
	// is set in flags the translator has already raised the guest exception
	// (the fault's Raised field is true and the guest PC points at the
	// exception vector).
	Translate(vaddr uint64, flags Flags) (Result, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(vaddr uint64, flags Flags) (Result, error)

// Translate implements the Translator interface.
func (f TranslatorFunc) Translate(vaddr uint64, flags Flags) (Result, error) {
	return f(vaddr, flags)
}

// Identity is the translation used while the MMU is switched off: every
// address maps to itself and is writable.
var Identity Translator = TranslatorFunc(func(vaddr uint64, _ Flags) (Result, error) {
	return Result{PAddr: vaddr, Status: Writable}, nil
})

// Counter wraps a Translator and counts calls to it. Used to check that
// fast paths really bypass translation.
type Counter struct {
	T     Translator
	Calls int
}

// Translate implements the Translator interface.
func (c *Counter) Translate(vaddr uint64, flags Flags) (Result, error) {
	c.Calls++
	return c.T.Translate(vaddr, flags)
}
