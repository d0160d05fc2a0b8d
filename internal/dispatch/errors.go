package dispatch

import "fmt"

// FetchError aborts a run before any delivery. Phase is "ledger" or
// "directory".
type FetchError struct {
	Phase string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch phase failed (%s): %v", e.Phase, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DirectoryError is a lookup failure confined to one recipient. The
// recipient is treated as having no enabled channels.
type DirectoryError struct {
	RecipientID string
	Err         error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("lookup recipient %s: %v", e.RecipientID, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}
