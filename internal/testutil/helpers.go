package testutil

// Ptr returns a pointer to v, for DeviceSettings-style optional fields in
// test literals.
func Ptr[T any](v T) *T { return &v }
