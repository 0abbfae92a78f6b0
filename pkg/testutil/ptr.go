// Package testutil holds helpers shared by the rtsession test suites.
package testutil

// Ptr returns a pointer to v, for optional config fields in table tests.
func Ptr[T any](v T) *T { return &v }
