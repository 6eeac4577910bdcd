//go:build debug_mem_utils

package memutils

// DebugEnabled reports whether memutils was built with the debug_mem_utils build tag
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}

// DebugCheckBounds will verify that [offset, offset+size) lies inside a region of regionSize bytes, and
// panics if it does not. This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckBounds(offset, size, regionSize int, name string) {
	err := CheckBounds(offset, size, regionSize, name)
	if err != nil {
		panic(err)
	}
}
