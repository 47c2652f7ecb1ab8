package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with the GORM transaction it runs in.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// DB returns the transaction bound to the request context.
func (c Context) DB() *gorm.DB {
	return c.Tx.WithContext(c.Ctx)
}
