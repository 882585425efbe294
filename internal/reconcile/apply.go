package reconcile

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/flowcontrol"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/syncerr"
)

// Target identifies the record set being converged.
type Target struct {
	Domain string
	Name   string
	Kind   string
	TTL    int // applied to created records only
}

// Failure is one action that could not be applied.
type Failure struct {
	Action   string // "create" or "delete"
	Address  string
	RecordID int // zero for creates
	Err      error
}

// Report summarizes what Apply did.
type Report struct {
	Created []dns.Record // records returned by the store
	Deleted []dns.Record
	Skipped []dns.Record // deletes that found the record already gone
	Failed  []Failure
}

// Err aggregates every failure, or returns nil when all actions succeeded.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return utilerrors.NewAggregate(errs)
}

// Succeeded returns the number of actions that took effect.
func (r *Report) Succeeded() int {
	return len(r.Created) + len(r.Deleted)
}

// Executor applies action sets against a record store, one call at a time.
type Executor struct {
	Store dns.RecordStore
	Log   logr.Logger

	// Limiter paces store calls when set.
	Limiter flowcontrol.RateLimiter
}

// Apply creates missing records, then deletes stale ones. A failing action
// is recorded in the report and does not stop the remaining actions.
func (e *Executor) Apply(ctx context.Context, target Target, actions ActionSet) *Report {
	report := &Report{}

	for _, address := range actions.ToCreate {
		if err := e.wait(ctx); err != nil {
			report.Failed = append(report.Failed, Failure{
				Action:  "create",
				Address: address,
				Err:     syncerr.Newf(syncerr.CreateRecordFail, address, err),
			})
			continue
		}

		e.Log.V(1).Info("creating record for address", "address", address)
		created, err := e.Store.CreateRecord(ctx, target.Domain, dns.Record{
			Name: target.Name,
			Type: target.Kind,
			Data: address,
			TTL:  target.TTL,
		})
		if err != nil {
			e.Log.Error(err, "create failed", "address", address)
			report.Failed = append(report.Failed, Failure{
				Action:  "create",
				Address: address,
				Err:     syncerr.Newf(syncerr.CreateRecordFail, address, err),
			})
			continue
		}
		report.Created = append(report.Created, created)
	}

	for _, record := range actions.ToDelete {
		subject := strconv.Itoa(record.ID) + " (" + record.Data + ")"
		if err := e.wait(ctx); err != nil {
			report.Failed = append(report.Failed, Failure{
				Action:   "delete",
				Address:  record.Data,
				RecordID: record.ID,
				Err:      syncerr.Newf(syncerr.DeleteRecordFail, subject, err),
			})
			continue
		}

		e.Log.V(1).Info("deleting record", "id", record.ID, "address", record.Data)
		err := e.Store.DeleteRecord(ctx, target.Domain, record.ID)
		switch {
		case err == nil:
			report.Deleted = append(report.Deleted, record)
		case errors.Is(err, dns.ErrNotFound):
			e.Log.Info("record not found, skipping", "id", record.ID, "address", record.Data)
			report.Skipped = append(report.Skipped, record)
		default:
			e.Log.Error(err, "delete failed", "id", record.ID, "address", record.Data)
			report.Failed = append(report.Failed, Failure{
				Action:   "delete",
				Address:  record.Data,
				RecordID: record.ID,
				Err:      syncerr.Newf(syncerr.DeleteRecordFail, subject, err),
			})
		}
	}

	return report
}

func (e *Executor) wait(ctx context.Context) error {
	if e.Limiter == nil {
		return ctx.Err()
	}
	return e.Limiter.Wait(ctx)
}
