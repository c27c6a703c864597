package generator

// GenerationError means a backend call returned no usable image, or the
// image could not be fetched, decoded, or stored.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Op + ": no usable image data"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ValidationError is returned when the garment check rejects an input image.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "garment rejected: " + e.Message }
