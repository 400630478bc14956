// Package errors provides examples of structured error handling in poolbench.
package errors_test

import (
	"fmt"
	"io"

	"github.com/mhdali93/poolbench/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeConnection, "failed to connect to database")

	// Add context details
	err = err.WithDetail("host", "localhost").
		WithDetail("port", 5432).
		WithDetail("database", "benchmark")

	// Print the error
	fmt.Println(err.Error())

	// Output:
	// connection: failed to connect to database
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	// Simulate an underlying error
	originalErr := io.EOF

	// Wrap the error with context
	err := errors.Wrap(originalErr, errors.ErrorTypeQuery, "failed to scan row").
		WithDetail("table", "users").
		WithDetail("id", 42)

	// Check the error type
	if errors.IsType(err, errors.ErrorTypeQuery) {
		fmt.Println("This is a query error")
	}

	// Output:
	// This is a query error
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	connErr := errors.New(errors.ErrorTypeConnection, "connection refused")
	valErr := errors.New(errors.ErrorTypeValidation, "capacity must be positive")

	fmt.Println(errors.IsRetryable(connErr))
	fmt.Println(errors.IsRetryable(valErr))

	// Output:
	// true
	// false
}
