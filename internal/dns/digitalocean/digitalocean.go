package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/digitalocean/godo"
	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns"
)

// Name is the registry name of this provider.
const Name = "digitalocean"

// Keys of the settings map passed to New.
const (
	SettingAPIKey = "api_key"
	SettingAPIURL = "api_url"
)

const perPage = 200

func init() {
	dns.Register(Name, func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for DigitalOcean droplets and domains.
type Provider struct {
	client *godo.Client
	log    logr.Logger
}

var _ dns.Provider = &Provider{}

// New creates a DigitalOcean provider from the given settings map.
// SettingAPIKey is required. SettingAPIURL defaults to the public
// DigitalOcean API.
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	apiKey := settings[SettingAPIKey]
	if apiKey == "" {
		return nil, fmt.Errorf("digitalocean: missing required setting %q", SettingAPIKey)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey})
	httpClient := oauth2.NewClient(context.Background(), ts)

	var opts []godo.ClientOpt
	if v := settings[SettingAPIURL]; v != "" {
		opts = append(opts, godo.SetBaseURL(v))
	}
	opts = append(opts, godo.SetUserAgent("droplet-dns-sync"))

	client, err := godo.New(httpClient, opts...)
	if err != nil {
		return nil, fmt.Errorf("digitalocean: build client: %w", err)
	}

	return &Provider{client: client, log: log}, nil
}

// Verify fetches the account the token belongs to.
func (p *Provider) Verify(ctx context.Context) error {
	account, _, err := p.client.Account.Get(ctx)
	if err != nil {
		return fmt.Errorf("digitalocean: get account: %w", err)
	}
	p.log.V(1).Info("authenticated", "account", account.UUID, "status", account.Status)
	return nil
}

// ListInstancesByTag returns every droplet carrying tag. Only IPv4 networks
// are reported.
func (p *Provider) ListInstancesByTag(ctx context.Context, tag string) ([]dns.Instance, error) {
	var out []dns.Instance
	opt := &godo.ListOptions{Page: 1, PerPage: perPage}
	for {
		droplets, resp, err := p.client.Droplets.ListByTag(ctx, tag, opt)
		if err != nil {
			return nil, fmt.Errorf("digitalocean: list droplets (tag %q, page %d): %w", tag, opt.Page, err)
		}
		for _, d := range droplets {
			out = append(out, toInstance(d))
		}

		next, ok, err := nextPage(resp)
		if err != nil {
			return nil, fmt.Errorf("digitalocean: list droplets: %w", err)
		}
		if !ok {
			break
		}
		opt.Page = next
	}
	p.log.V(1).Info("listed droplets", "tag", tag, "count", len(out))
	return out, nil
}

// ListRecords returns every record of domain.
func (p *Provider) ListRecords(ctx context.Context, domain string) ([]dns.Record, error) {
	var out []dns.Record
	opt := &godo.ListOptions{Page: 1, PerPage: perPage}
	for {
		records, resp, err := p.client.Domains.Records(ctx, domain, opt)
		if err != nil {
			return nil, fmt.Errorf("digitalocean: list records (domain %q, page %d): %w", domain, opt.Page, err)
		}
		for _, r := range records {
			out = append(out, toRecord(r))
		}

		next, ok, err := nextPage(resp)
		if err != nil {
			return nil, fmt.Errorf("digitalocean: list records: %w", err)
		}
		if !ok {
			break
		}
		opt.Page = next
	}
	p.log.V(1).Info("listed records", "domain", domain, "count", len(out))
	return out, nil
}

// CreateRecord adds a record to domain.
func (p *Provider) CreateRecord(ctx context.Context, domain string, record dns.Record) (dns.Record, error) {
	p.log.Info("creating record", "domain", domain, "name", record.Name, "type", record.Type, "data", record.Data, "ttl", record.TTL)

	created, _, err := p.client.Domains.CreateRecord(ctx, domain, &godo.DomainRecordEditRequest{
		Type: record.Type,
		Name: record.Name,
		Data: record.Data,
		TTL:  record.TTL,
	})
	if err != nil {
		return dns.Record{}, fmt.Errorf("digitalocean: create record: %w", err)
	}

	p.log.Info("record created", "id", created.ID)
	return toRecord(*created), nil
}

// DeleteRecord removes a record by id. A 404 is reported as dns.ErrNotFound.
func (p *Provider) DeleteRecord(ctx context.Context, domain string, id int) error {
	p.log.Info("deleting record", "domain", domain, "id", id)

	resp, err := p.client.Domains.DeleteRecord(ctx, domain, id)
	if err != nil {
		if isNotFound(resp, err) {
			return fmt.Errorf("digitalocean: delete record %d: %w", id, dns.ErrNotFound)
		}
		return fmt.Errorf("digitalocean: delete record %d: %w", id, err)
	}

	p.log.Info("record deleted", "id", id)
	return nil
}

func toInstance(d godo.Droplet) dns.Instance {
	inst := dns.Instance{ID: d.ID, Name: d.Name}
	if d.Networks == nil {
		return inst
	}
	for _, nw := range d.Networks.V4 {
		inst.Networks = append(inst.Networks, dns.Network{Type: nw.Type, Address: nw.IPAddress})
	}
	return inst
}

func toRecord(r godo.DomainRecord) dns.Record {
	return dns.Record{
		ID:   r.ID,
		Name: r.Name,
		Type: r.Type,
		Data: r.Data,
		TTL:  r.TTL,
	}
}

// nextPage reports the page following resp, and whether there is one.
func nextPage(resp *godo.Response) (int, bool, error) {
	if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
		return 0, false, nil
	}
	page, err := resp.Links.CurrentPage()
	if err != nil {
		return 0, false, fmt.Errorf("current page: %w", err)
	}
	return page + 1, true, nil
}

func isNotFound(resp *godo.Response, err error) bool {
	if resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var errResp *godo.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode == http.StatusNotFound
	}
	return false
}
