// Package storage содержит строковые key-value хранилища, на которых держится кэш учётных данных.
package storage

import (
	"context"
	"errors"
)

// ErrCorrupted возвращается, если содержимое хранилища невозможно разобрать.
var ErrCorrupted = errors.New("storage is corrupted")

// Store описывает строковое key-value хранилище.
// SetMany и DeleteMany применяют все изменения целиком либо не применяют ничего.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetMany(ctx context.Context, values map[string]string) error
	DeleteMany(ctx context.Context, keys ...string) error
	Close() error
}
