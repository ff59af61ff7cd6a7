package db

import (
	"context"
	"time"
)

// Ctx creates a new context with a default timeout of 5 seconds.
func Ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
