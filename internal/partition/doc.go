// Package partition wraps a node's record store with the bookkeeping the
// directory operations need.
//
// A node owns exactly one Partition. Besides forwarding to the underlying
// storage.Store it:
//
//   - reports type-count transitions (first record of a type on Insert,
//     last record of a type on Delete) which drive index propagation
//   - treats deleting an unknown id as a successful no-op
//   - counts inserts, gets, queries and deletes for /info
//
// Insert and Delete hold an exclusive lock across the store write and the
// follow-up type count, so two concurrent registrations of the same new
// type can't both report firstOfType.
package partition
