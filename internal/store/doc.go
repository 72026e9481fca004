// Package store declares the activity history repository. Implementations live
// under internal/storage; this package must not import database drivers.
package store
