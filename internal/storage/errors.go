package storage

// CorruptError indicates the backing file exists but cannot be read back
// into a valid event collection.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return "storage: corrupt event file " + e.Path + ": " + e.Err.Error()
}

func (e *CorruptError) Unwrap() error { return e.Err }

// WriteError indicates a persist attempt failed. The previous file content
// is still in place.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return "storage: write " + e.Path + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }
