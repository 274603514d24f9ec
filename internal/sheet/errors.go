package sheet

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is wrapped by FetchError when the source answered with no body.
var ErrEmptyResponse = errors.New("empty response")

// FetchError reports a spreadsheet download that failed or returned no data.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FormatError reports content that cannot be interpreted as a product sheet.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid sheet: %s: %v", e.Reason, e.Err)
	}
	return "invalid sheet: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }
