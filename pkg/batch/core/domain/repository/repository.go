// Package repository defines the persistence ports of the batched migration engine.
package repository

// MigrationRepository is the storage used by the runner and the operators.
type MigrationRepository interface {
	BatchedMigration
	BatchedMigrationJob
}
