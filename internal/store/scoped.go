package store

import "context"

// DeviceStore is the credential record of one device, exposed as the string
// key-value store a Session persists into.
type DeviceStore struct {
	repo     Repository
	deviceID string
}

// Scoped binds repo to a single device.
func Scoped(repo Repository, deviceID string) *DeviceStore {
	return &DeviceStore{repo: repo, deviceID: deviceID}
}

// Get returns the device's credential stored under key.
func (d *DeviceStore) Get(ctx context.Context, key string) (string, bool, error) {
	return d.repo.GetCredential(ctx, d.deviceID, key)
}

// Set creates or replaces the device's credential under key.
func (d *DeviceStore) Set(ctx context.Context, key, value string) error {
	return d.repo.PutCredential(ctx, d.deviceID, key, value)
}

// Delete removes the device's credential under key.
func (d *DeviceStore) Delete(ctx context.Context, key string) error {
	return d.repo.DeleteCredential(ctx, d.deviceID, key)
}
