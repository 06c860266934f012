package errutil

import "bytes"

// MultiError holds a list of errors behind a single error interface. Useful
// for aggregating independent cleanup failures.
//
// Note: never return a MultiError value as an error directly, see
// https://golang.org/doc/faq#nil_error. Use Join.
type MultiError []error

func (e MultiError) Error() string {
	var b bytes.Buffer
	for i, err := range e {
		b.WriteString(err.Error())
		if i < len(e)-1 {
			b.WriteString(", ")
		}
	}
	return b.String()
}

// Join converts errs into a single error. A nil errs yields a nil error.
func Join(errs []error) error {
	if errs == nil {
		return nil
	}
	return MultiError(errs)
}
