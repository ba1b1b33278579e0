// Package dedup suppresses repeated receptions of the same message.
//
// It catches repeats that the controller's duplicate report filtering lets
// through.
// Build with the nodedup tag to compile a filter that holds no table.
package dedup

// Size is the number of records kept.
const Size = 10
