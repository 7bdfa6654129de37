package fetch

import "fmt"

// SourceUnavailable reports a remote fetch that exhausted its retry
// budget. It is fatal for the record being loaded, but recoverable at
// the dataset level by skipping forward.
type SourceUnavailable struct {
	URI      string
	Attempts int
	Err      error
}

func (e *SourceUnavailable) Error() string {
	return fmt.Sprintf("fetch: %s unavailable after %d attempts: %v",
		e.URI, e.Attempts, e.Err)
}

func (e *SourceUnavailable) Unwrap() error {
	return e.Err
}

// MalformedRecord reports a JSON line that could not be parsed even
// after trailing-garbage recovery. Line carries the original raw text
// for diagnosis.
type MalformedRecord struct {
	Line string
	Err  error
}

func (e *MalformedRecord) Error() string {
	return fmt.Sprintf("fetch: malformed record %q: %v", e.Line, e.Err)
}

func (e *MalformedRecord) Unwrap() error {
	return e.Err
}
