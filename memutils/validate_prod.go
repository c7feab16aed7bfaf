//go:build !debug_mem_utils

package memutils

// DebugValidate calls Validate on the provided object and panics if an error is returned. This
// method no-ops unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {}

// DebugCheckPow2 panics if value is not a power of two. This method no-ops unless the
// debug_mem_utils build tag is present.
func DebugCheckPow2(value int, name string) {}
