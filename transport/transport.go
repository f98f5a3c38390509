package transport

import (
	"context"
	"fmt"
)

// Fetcher reads `wordCount` registers starting at `address` and returns the raw response text,
// formatted as `id,function,byteCount,b0,b1,...`.
//
// Timeouts and connection handling are the responsibility of the implementation.
type Fetcher interface {
	Fetch(ctx context.Context, address uint16, wordCount uint8) (string, error)
}

// Error is returned when a request could not be completed, e.g. the network or serial port failed.
type Error struct {
	Address   uint16
	WordCount uint8
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %d register(s) at 0x%04X: %v", e.WordCount, e.Address, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
