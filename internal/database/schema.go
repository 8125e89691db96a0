// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

// Schema is an ordered list of idempotent DDL statements.
type Schema []string

// Join returns a schema containing the statements of all the given
// schemas, in order.
func Join(schemas ...Schema) Schema {
	var all Schema
	for _, s := range schemas {
		all = append(all, s...)
	}
	return all
}
