// Package vm implements the method dispatch core of a dynamic object
// runtime.
//
// This package contains:
//   - Class and module records with singleton classes and metaclasses
//   - Ancestry linearization for include and prepend
//   - A generation-stamped global method cache and per-site inline caches
//   - Lazy method sources compiled through a pluggable Producer
//   - Instance variable slot tables and a cached constant resolver
//   - Per-thread execution contexts with closure, binding, exception and
//     catch stacks
//   - A reflection bridge for dispatching to Go values
//
// A Runtime is shared by every Context created from it. Contexts are not
// safe for concurrent use; the Runtime is.
package vm
