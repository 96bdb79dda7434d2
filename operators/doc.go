// Package operators contains reusable lazyflow operators: a pass-through
// piper, element-wise threshold and inversion, and a block cache backed by a
// kstate store.
package operators
