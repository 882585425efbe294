package integration

import (
	"context"
	"errors"
	"testing"

	logrtesting "github.com/go-logr/logr/testing"
	"github.com/google/go-cmp/cmp"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/controller"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns/digitalocean"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns/digitalocean/fakedo"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/reconcile"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/syncerr"
)

const domain = "example.com"

var target = reconcile.Target{Domain: domain, Name: "www", Kind: "A", TTL: 300}

func newProvider(t *testing.T, srv *fakedo.Server) *digitalocean.Provider {
	t.Helper()
	p, err := digitalocean.New(logrtesting.NewTestLogger(t), map[string]string{
		digitalocean.SettingAPIKey: "token",
		digitalocean.SettingAPIURL: srv.BaseURL(),
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return p
}

func newReconciler(t *testing.T, instances dns.InstanceLister, records dns.RecordStore) *controller.RecordSetReconciler {
	t.Helper()
	return &controller.RecordSetReconciler{
		Instances: instances,
		Records:   records,
		Log:       logrtesting.NewTestLogger(t),
		Tag:       "web",
		Target:    target,
	}
}

// managed returns the data of the www A records, in id order.
func managed(srv *fakedo.Server) []string {
	var out []string
	for _, r := range srv.Records(domain) {
		if r.Name == "www" && r.Type == "A" {
			out = append(out, r.Data)
		}
	}
	return out
}

func seed(srv *fakedo.Server) {
	srv.SetDroplets(
		fakedo.Droplet{ID: 1, Name: "web-1", Tags: []string{"web"}, PublicV4: []string{"1.2.3.4"}, PrivateV4: []string{"10.0.0.1"}},
		fakedo.Droplet{ID: 2, Name: "web-2", Tags: []string{"web"}, PublicV4: []string{"5.6.7.8"}},
		fakedo.Droplet{ID: 3, Name: "db-1", Tags: []string{"db"}, PublicV4: []string{"7.7.7.7"}},
	)
	srv.AddRecord(domain, fakedo.Record{Type: "A", Name: "www", Data: "5.6.7.8", TTL: 300})
	srv.AddRecord(domain, fakedo.Record{Type: "A", Name: "www", Data: "9.9.9.9", TTL: 300})
	srv.AddRecord(domain, fakedo.Record{Type: "A", Name: "api", Data: "9.9.9.9", TTL: 300})
	srv.AddRecord(domain, fakedo.Record{Type: "TXT", Name: "www", Data: "9.9.9.9", TTL: 300})
}

func TestSyncConvergesRecordSet(t *testing.T) {
	srv := fakedo.New("token")
	defer srv.Close()
	srv.PageSize = 2
	seed(srv)

	p := newProvider(t, srv)
	report, err := newReconciler(t, p, p).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Created) != 1 || report.Created[0].Data != "1.2.3.4" {
		t.Errorf("expected 1.2.3.4 created, got %+v", report.Created)
	}
	if len(report.Deleted) != 1 || report.Deleted[0].Data != "9.9.9.9" {
		t.Errorf("expected 9.9.9.9 deleted, got %+v", report.Deleted)
	}

	if diff := cmp.Diff([]string{"5.6.7.8", "1.2.3.4"}, managed(srv)); diff != "" {
		t.Errorf("managed records mismatch (-want +got):\n%s", diff)
	}
	// Records outside the (name, kind) pair are untouched.
	if got := len(srv.Records(domain)); got != 4 {
		t.Errorf("expected 4 records in the zone, got %d", got)
	}
	for _, r := range srv.Records(domain) {
		if r.Data == "1.2.3.4" && r.TTL != 300 {
			t.Errorf("expected created record ttl 300, got %d", r.TTL)
		}
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	srv := fakedo.New("token")
	defer srv.Close()
	seed(srv)

	p := newProvider(t, srv)
	r := newReconciler(t, p, p)
	if _, err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	before := len(srv.Calls())
	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if report.Succeeded() != 0 || len(report.Failed) != 0 {
		t.Errorf("expected no actions on second pass, got %+v", report)
	}
	for _, call := range srv.Calls()[before:] {
		if call[:3] != "GET" {
			t.Errorf("unexpected mutating call on second pass: %s", call)
		}
	}
}

func TestSyncPartialCreateFailure(t *testing.T) {
	srv := fakedo.New("token")
	defer srv.Close()
	srv.AddDomain(domain)
	srv.SetDroplets(
		fakedo.Droplet{ID: 1, Tags: []string{"web"}, PublicV4: []string{"1.1.1.1"}},
		fakedo.Droplet{ID: 2, Tags: []string{"web"}, PublicV4: []string{"2.2.2.2"}},
		fakedo.Droplet{ID: 3, Tags: []string{"web"}, PublicV4: []string{"3.3.3.3"}},
	)
	srv.FailCreate["2.2.2.2"] = true

	p := newProvider(t, srv)
	report, err := newReconciler(t, p, p).Reconcile(context.Background())
	if !errors.Is(err, syncerr.CreateRecordFail) {
		t.Fatalf("expected CreateRecordFail, got %v", err)
	}
	if report.Succeeded() != 2 || len(report.Failed) != 1 {
		t.Errorf("expected 2 successes and 1 failure, got %+v", report)
	}
	if diff := cmp.Diff([]string{"1.1.1.1", "3.3.3.3"}, managed(srv)); diff != "" {
		t.Errorf("managed records mismatch (-want +got):\n%s", diff)
	}

	// The next cycle retries the missing one.
	srv.Set(func(s *fakedo.Server) { delete(s.FailCreate, "2.2.2.2") })
	if _, err := newReconciler(t, p, p).Reconcile(context.Background()); err != nil {
		t.Fatalf("retry Reconcile: %v", err)
	}
	if diff := cmp.Diff([]string{"1.1.1.1", "3.3.3.3", "2.2.2.2"}, managed(srv)); diff != "" {
		t.Errorf("managed records after retry mismatch (-want +got):\n%s", diff)
	}
}

// racingStore removes each record from the fake just before deleting it,
// as if another client got there first.
type racingStore struct {
	*digitalocean.Provider
	srv *fakedo.Server
}

func (s racingStore) DeleteRecord(ctx context.Context, domain string, id int) error {
	s.srv.RemoveRecord(domain, id)
	return s.Provider.DeleteRecord(ctx, domain, id)
}

func TestSyncRecordRemovedConcurrently(t *testing.T) {
	srv := fakedo.New("token")
	defer srv.Close()
	seed(srv)

	p := newProvider(t, srv)
	report, err := newReconciler(t, p, racingStore{Provider: p, srv: srv}).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("expected a vanished record not to fail the sync, got %v", err)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Data != "9.9.9.9" {
		t.Errorf("expected 9.9.9.9 skipped, got %+v", report.Skipped)
	}
	if diff := cmp.Diff([]string{"5.6.7.8", "1.2.3.4"}, managed(srv)); diff != "" {
		t.Errorf("managed records mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncListRecordsFailure(t *testing.T) {
	srv := fakedo.New("token")
	defer srv.Close()
	seed(srv)
	srv.FailListRecords = true

	p := newProvider(t, srv)
	report, err := newReconciler(t, p, p).Reconcile(context.Background())
	if !errors.Is(err, syncerr.ListRecordsFail) {
		t.Fatalf("expected ListRecordsFail, got %v", err)
	}
	if report != nil {
		t.Errorf("expected no report for an aborted sync, got %+v", report)
	}
	for _, call := range srv.Calls() {
		if call[:3] != "GET" {
			t.Errorf("unexpected mutating call after failed lookup: %s", call)
		}
	}
}

func TestSyncUnknownDomain(t *testing.T) {
	srv := fakedo.New("token")
	defer srv.Close()
	srv.SetDroplets(fakedo.Droplet{ID: 1, Tags: []string{"web"}, PublicV4: []string{"1.2.3.4"}})

	p := newProvider(t, srv)
	_, err := newReconciler(t, p, p).Reconcile(context.Background())
	if !errors.Is(err, syncerr.ListRecordsFail) {
		t.Fatalf("expected ListRecordsFail for an unknown domain, got %v", err)
	}
}
