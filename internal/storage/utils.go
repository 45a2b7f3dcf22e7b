package storage

import "github.com/yang-jaeyoung/flowledger/internal/config"

// InitStore opens the file store for a storage root using its configuration.
func InitStore(root string) (*FileStore, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return NewFileStore(root, Options{
		AppendTimeout: cfg.AppendTimeout,
		Fsync:         cfg.Fsync,
	})
}
