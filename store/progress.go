package store

// Interrupt is a cooperative cancellation signal. Long-running operations
// (iteration, verification, traversal) check it at entry and between
// objects, short-circuiting with ErrInterrupted once it reports true.
// A nil Interrupt is always treated as "not set".
type Interrupt func() bool

func (i Interrupt) triggered() bool {
	return i != nil && i()
}

// Progress receives incremental counts during a long-running scan, e.g.
// verify_integrity. done is the number of objects processed so far; total
// is the expected count when known, or 0 otherwise. A nil Progress is a
// valid no-op receiver.
type Progress func(done, total int)

func (p Progress) report(done, total int) {
	if p != nil {
		p(done, total)
	}
}
