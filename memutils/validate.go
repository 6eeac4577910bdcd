package memutils

// Validatable is implemented by structures that can check their own internal consistency.
// DebugValidate accepts any of them.
type Validatable interface {
	Validate() error
}
