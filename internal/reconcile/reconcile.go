// Package reconcile computes and applies the changes that bring a DNS record
// set in line with a set of desired addresses.
package reconcile

import (
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns"
)

// ActionSet is the outcome of comparing desired addresses with existing
// records. Addresses are sorted; records are sorted by address, then id.
type ActionSet struct {
	ToCreate []string     // desired addresses without a record
	ToDelete []dns.Record // records whose address is no longer desired
	UpToDate []string     // desired addresses that already have a record
}

// IsEmpty reports whether nothing needs to be created or deleted.
func (a ActionSet) IsEmpty() bool {
	return len(a.ToCreate) == 0 && len(a.ToDelete) == 0
}

// Reconcile compares desired addresses with the actual records. Records are
// matched on Data by exact string equality and TTL is ignored.
//
// Every record whose address is not desired is scheduled for deletion,
// including duplicates sharing an address. Duplicates of a desired address
// are left alone. An empty desired set deletes all records.
func Reconcile(desired sets.Set[string], actual []dns.Record) ActionSet {
	current := sets.New[string]()
	for _, r := range actual {
		current.Insert(r.Data)
	}

	var toDelete []dns.Record
	for _, r := range actual {
		if !desired.Has(r.Data) {
			toDelete = append(toDelete, r)
		}
	}
	sort.SliceStable(toDelete, func(i, j int) bool {
		if toDelete[i].Data != toDelete[j].Data {
			return toDelete[i].Data < toDelete[j].Data
		}
		return toDelete[i].ID < toDelete[j].ID
	})

	return ActionSet{
		ToCreate: sets.List(desired.Difference(current)),
		ToDelete: toDelete,
		UpToDate: sets.List(desired.Intersection(current)),
	}
}

// Addresses returns the distinct data values of records, sorted.
func Addresses(records []dns.Record) []string {
	s := sets.New[string]()
	for _, r := range records {
		s.Insert(r.Data)
	}
	return sets.List(s)
}
