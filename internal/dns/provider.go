package dns

import (
	"context"
	"errors"
)

// ErrNotFound is returned (wrapped) by RecordStore.DeleteRecord when the
// record id no longer exists at the provider.
var ErrNotFound = errors.New("record not found")

// Network types reported on instance interfaces.
const (
	NetworkPublic  = "public"
	NetworkPrivate = "private"
)

// Record is a DNS record as stored by the provider.
type Record struct {
	ID   int    // provider-assigned identifier, unique within the domain
	Name string // relative name, e.g. "www" or "@"
	Type string // "A", "AAAA", ...
	Data string // IP address or target
	TTL  int    // seconds; 0 = provider default
}

// Network is one address attached to an instance.
type Network struct {
	Type    string // NetworkPublic or NetworkPrivate
	Address string
}

// Instance is a compute instance carrying a tag.
type Instance struct {
	ID       int
	Name     string
	Networks []Network
}

// InstanceLister lists compute instances.
type InstanceLister interface {
	ListInstancesByTag(ctx context.Context, tag string) ([]Instance, error)
}

// RecordStore reads and writes domain records.
type RecordStore interface {
	ListRecords(ctx context.Context, domain string) ([]Record, error)
	CreateRecord(ctx context.Context, domain string, record Record) (Record, error)
	DeleteRecord(ctx context.Context, domain string, id int) error
}

// Provider is the interface that cloud providers must implement.
type Provider interface {
	InstanceLister
	RecordStore

	// Verify performs a cheap authenticated call to check the credentials.
	Verify(ctx context.Context) error
}
