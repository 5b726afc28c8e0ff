// Package errors provides examples of structured error handling in fedstream.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Example demonstrates basic error creation and details.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "batch_size must be positive").
		WithDetail("field", "batch_size")

	fmt.Println(err.Error())

	// Output:
	// config: batch_size must be positive
}

// ExampleFetch shows how a failed fetch carries its source.
func ExampleFetch() {
	err := errors.Fetch("patients", "./patients.csv", io.ErrUnexpectedEOF)

	fmt.Println(errors.IsType(err, errors.ErrorTypeFetch))
	fmt.Println(errors.SourceOf(err))
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))
	fmt.Println(err)

	// Output:
	// true
	// patients
	// true
	// fetch: fetch failed: unexpected EOF
}

// ExampleIsFatal demonstrates which errors abort a streamer.
func ExampleIsFatal() {
	fetchErr := errors.Fetch("a", "", io.EOF)
	violation := errors.Protocol("send on closed channel %q", "outcomes")

	fmt.Println(errors.IsFatal(fetchErr))
	fmt.Println(errors.IsFatal(violation))
	fmt.Println(errors.IsFatal(errors.Wrap(violation, errors.ErrorTypeInternal, "multiplexer stopped")))

	// Output:
	// false
	// true
	// true
}
