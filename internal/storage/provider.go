package storage

import "comfyrelay/internal/ports"

// Provider is the storage contract used by the worker and relayctl.
// It is an alias to ports.StorageProvider to keep call-sites simple.
type Provider = ports.StorageProvider
