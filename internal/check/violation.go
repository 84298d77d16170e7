package check

import "fmt"

// Violation describes a broken usage contract.
type Violation struct {
	Check  string // which checker fired
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("check: %s: %s", v.Check, v.Detail)
}

func fail(check, format string, args ...any) {
	panic(&Violation{Check: check, Detail: fmt.Sprintf(format, args...)})
}
