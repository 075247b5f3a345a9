package backend

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DeviceFactory opens a new device instance.
type DeviceFactory func() (Device, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]DeviceFactory)
	// Priority order for backend selection (first available wins).
	// Native > Software (Software is the fallback).
	backendPriority = []string{BackendNative, BackendSoftware}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory DeviceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device by backend name.
func Open(name string) (Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Available())
	}
	dev, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", name, err)
	}
	return dev, nil
}

// OpenDefault opens the best available device based on priority.
// A backend that fails to open is skipped with a warning.
// Returns ErrBackendNotAvailable if no backend could be opened.
func OpenDefault() (Device, error) {
	registryMu.RLock()
	ordered := make([]string, 0, len(backends))
	for _, name := range backendPriority {
		if _, ok := backends[name]; ok {
			ordered = append(ordered, name)
		}
	}
	var rest []string
	for name := range backends {
		if !contains(backendPriority, name) {
			rest = append(rest, name)
		}
	}
	registryMu.RUnlock()
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	for _, name := range ordered {
		dev, err := Open(name)
		if err != nil {
			slogger().Warn("backend unavailable, trying next", "backend", name, "err", err)
			continue
		}
		slogger().Info("backend selected", "backend", name)
		return dev, nil
	}
	return nil, ErrBackendNotAvailable
}

// MustOpenDefault returns the default device or panics.
func MustOpenDefault() Device {
	dev, err := OpenDefault()
	if err != nil {
		panic("backend: no backend available")
	}
	return dev
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// slogger returns the backend package logger.
func slogger() *slog.Logger { return loggerPtr.Load() }
