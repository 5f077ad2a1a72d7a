// Package model defines the object types exchanged between Coaty agents.
//
// This package manages:
//   - The CoatyObject base entity with its closed core-type set
//   - Specializations (Component, Device, User, ...) used by the
//     communication core
//   - Context filters and their evaluation against objects
//
// # Wire Compatibility
//
// Objects round-trip through JSON without loss: fields unknown to this
// package are preserved verbatim and re-emitted on marshalling. This is
// load-bearing for interop with peers that attach custom properties.
package model
