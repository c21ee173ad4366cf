package pointers

// To returns a pointer to a copy of v. Handy for optional fields in partial
// updates.
func To[T any](v T) *T { return &v }
