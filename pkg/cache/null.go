package cache

import "context"

// NullStore is a no-op index that never records anything. Used when the
// download cache is disabled.
type NullStore struct{}

// NewNullStore creates a null index store.
func NewNullStore() Store {
	return &NullStore{}
}

// Exists always reports a miss.
func (*NullStore) Exists(ctx context.Context, name, version string) (bool, error) {
	return false, nil
}

// Add does nothing.
func (*NullStore) Add(ctx context.Context, name, version string) error {
	return nil
}

// Close does nothing.
func (*NullStore) Close() error {
	return nil
}

var _ Store = (*NullStore)(nil)
