// Package types defines the brick data model: cells and payloads, the
// arena-backed Brick tree, named Collections, the validation Rules applied
// at the host boundary, the Nested wire form, process Config, the Store
// persistence interface and the sentinel errors shared by every layer.
package types
