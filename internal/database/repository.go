package database

import (
	"context"

	"gorm.io/gorm"
)

// Create ensures the type T is saved to the database.
func Create[T any](ctx context.Context, db *gorm.DB, entity *T) error {
	return gorm.G[T](db).Create(ctx, entity)
}

// First finds the first record of type T matching query.
func First[T any](ctx context.Context, db *gorm.DB, query string, args ...any) (T, error) {
	return gorm.G[T](db).Where(query, args...).First(ctx)
}

// DeleteWhere hard-deletes records of type T matching query.
func DeleteWhere[T any](ctx context.Context, db *gorm.DB, query string, args ...any) (int, error) {
	return gorm.G[T](db).Where(query, args...).Delete(ctx)
}
