package record

import "fmt"

// HeaderParseError reports bytes that do not start with a valid header.
type HeaderParseError struct { // A
	Reason string
}

func (e *HeaderParseError) Error() string { // A
	return "record header: " + e.Reason
}

// PayloadParseError reports a payload that does not decode as the kind
// named by its header.
type PayloadParseError struct { // A
	Kind Kind
	Err  error
}

func (e *PayloadParseError) Error() string { // A
	return fmt.Sprintf("record payload (%s): %v", e.Kind, e.Err)
}

func (e *PayloadParseError) Unwrap() error { // A
	return e.Err
}
