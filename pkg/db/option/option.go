package option

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockingUpdate applies row-level FOR UPDATE locking. Sqlite has no row locks
// (the whole database locks on write), so the clause is skipped there to keep
// the same code path usable in tests.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
