package app

// Operation tracks one CLI invocation and the worst exit status any of its
// hosts or filesystems reported.
type Operation struct {
	ID         string
	Operation  string
	Parameters string
	Status     int
}

// NewOperation creates a new operation with status 0.
func NewOperation(id, operation, parameters string) *Operation {
	return &Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
	}
}

// Observe folds status into the operation; the highest status wins.
func (op *Operation) Observe(status int) {
	op.Status = max(op.Status, status)
}

// Failed returns true once any non-zero status was observed.
func (op *Operation) Failed() bool {
	return op.Status != 0
}
