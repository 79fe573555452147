// Package errorf builds formatted errors with the same call shape as
// fmt.Errorf, kept as a distinct package so error-construction call sites
// read consistently with the rest of the ambient stack (chk, log).
package errorf

import "fmt"

// E formats a new error.
func E(format string, a ...interface{}) error { return fmt.Errorf(format, a...) }
