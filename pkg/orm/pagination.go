package orm

import "gorm.io/gorm"

// Limit caps a query at n rows; n <= 0 leaves it unbounded.
func Limit(db *gorm.DB, n int) *gorm.DB {
	if n > 0 {
		return db.Limit(n)
	}
	return db
}
