package controller

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/client-go/util/flowcontrol"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/reconcile"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/syncerr"
)

// RecordSetReconciler converges the records of one (domain, name, kind)
// triple to the public addresses of the droplets carrying Tag. It keeps no
// state between cycles.
type RecordSetReconciler struct {
	Instances dns.InstanceLister
	Records   dns.RecordStore
	Log       logr.Logger
	Tag       string
	Target    reconcile.Target

	// Limiter optionally paces create and delete calls.
	Limiter flowcontrol.RateLimiter
}

// Reconcile runs one cycle. A failed lookup aborts the cycle before any
// change is made. Otherwise every action is attempted and the returned
// error aggregates the ones that failed.
func (r *RecordSetReconciler) Reconcile(ctx context.Context) (*reconcile.Report, error) {
	start := time.Now()
	report, err := r.reconcile(ctx)
	reconcileDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		reconcileTotal.WithLabelValues("failure").Inc()
		return report, err
	}
	reconcileTotal.WithLabelValues("success").Inc()
	lastSuccess.SetToCurrentTime()
	return report, nil
}

func (r *RecordSetReconciler) reconcile(ctx context.Context) (*reconcile.Report, error) {
	t := r.Target
	r.Log.Info("syncing record set",
		"domain", t.Domain, "record", t.Name, "tag", r.Tag, "kind", t.Kind, "ttl", t.TTL)

	instances, err := r.Instances.ListInstancesByTag(ctx, r.Tag)
	if err != nil {
		return nil, syncerr.New(syncerr.ListInstancesFail, err)
	}
	desired := sets.New(dns.PublicAddresses(instances)...)
	desiredAddresses.Set(float64(desired.Len()))
	r.Log.V(1).Info("desired addresses", "instances", len(instances), "addresses", sets.List(desired))

	all, err := r.Records.ListRecords(ctx, t.Domain)
	if err != nil {
		return nil, syncerr.New(syncerr.ListRecordsFail, err)
	}
	actual := dns.FilterRecords(all, t.Name, t.Kind)
	managedRecords.Set(float64(len(actual)))
	r.Log.V(1).Info("current records", "fqdn", dns.FQDN(t.Name, t.Domain), "total", len(all), "matching", len(actual))

	actions := reconcile.Reconcile(desired, actual)
	r.Log.Info("computed actions",
		"create", actions.ToCreate,
		"delete", reconcile.Addresses(actions.ToDelete),
		"upToDate", actions.UpToDate)
	// TODO: update the TTL of up-to-date records whose TTL differs from t.TTL.

	if actions.IsEmpty() {
		r.Log.Info("sync complete, nothing to do")
		return &reconcile.Report{}, nil
	}

	executor := &reconcile.Executor{Store: r.Records, Log: r.Log, Limiter: r.Limiter}
	report := executor.Apply(ctx, t, actions)
	observe(report)

	if err := report.Err(); err != nil {
		r.Log.Info("sync finished with failures",
			"succeeded", report.Succeeded(), "skipped", len(report.Skipped), "failed", len(report.Failed))
		return report, err
	}
	r.Log.Info("sync complete",
		"created", len(report.Created), "deleted", len(report.Deleted), "skipped", len(report.Skipped))
	return report, nil
}

func observe(report *reconcile.Report) {
	actionsTotal.WithLabelValues("create", "success").Add(float64(len(report.Created)))
	actionsTotal.WithLabelValues("delete", "success").Add(float64(len(report.Deleted)))
	actionsTotal.WithLabelValues("delete", "skipped").Add(float64(len(report.Skipped)))
	for _, f := range report.Failed {
		actionsTotal.WithLabelValues(f.Action, "failure").Inc()
	}
}
