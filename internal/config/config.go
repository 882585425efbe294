package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	mdns "github.com/miekg/dns"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns/digitalocean"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/reconcile"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/syncerr"
)

// Environment variable names. The YAML file uses the same keys in lower case.
const (
	EnvAPIKey     = "API_KEY"
	EnvAPIURL     = "API_URL"
	EnvDomainName = "DOMAIN_NAME"
	EnvDropletTag = "DROPLET_TAG"
	EnvRecordName = "RECORD_NAME"
	EnvRecordKind = "RECORD_KIND"
	EnvRecordTTL  = "RECORD_TTL"

	// EnvConfigPath optionally names a YAML file providing the same keys.
	EnvConfigPath = "CONFIG_PATH"
)

var required = []string{EnvAPIKey, EnvDomainName, EnvDropletTag, EnvRecordName, EnvRecordKind, EnvRecordTTL}

// Config holds the parameters of a sync run. It is loaded once at startup
// and never changes afterwards.
type Config struct {
	APIKey     string
	APIURL     string // optional API endpoint override
	DomainName string
	DropletTag string
	RecordName string
	RecordKind string
	RecordTTL  uint32
}

// LookupFunc reads one variable, reporting whether it was set.
type LookupFunc func(key string) (string, bool)

// Load reads the configuration from the process environment. When
// CONFIG_PATH is set, the file supplies values that the environment may
// override.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	values := map[string]string{}

	if path, ok := lookup(EnvConfigPath); ok && path != "" {
		fileValues, err := readFile(path)
		if err != nil {
			return nil, syncerr.New(syncerr.InvalidConfig, err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}

	// A variable that is set but empty leaves the file value in place.
	for _, key := range append([]string{EnvAPIURL}, required...) {
		if v, ok := lookup(key); ok && v != "" {
			values[key] = v
		}
	}

	return parse(values)
}

// parse validates values keyed by environment variable name and builds a
// Config. Every problem is reported, not just the first.
func parse(values map[string]string) (*Config, error) {
	var errs []error
	for _, key := range required {
		if strings.TrimSpace(values[key]) == "" {
			errs = append(errs, fmt.Errorf("missing required value %s", key))
		}
	}
	if len(errs) > 0 {
		return nil, syncerr.New(syncerr.InvalidConfig, utilerrors.NewAggregate(errs))
	}

	cfg := &Config{
		APIKey:     values[EnvAPIKey],
		APIURL:     values[EnvAPIURL],
		DomainName: strings.TrimSuffix(values[EnvDomainName], "."),
		DropletTag: values[EnvDropletTag],
		RecordName: values[EnvRecordName],
		RecordKind: values[EnvRecordKind],
	}

	ttl, err := strconv.ParseUint(strings.TrimSpace(values[EnvRecordTTL]), 10, 32)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("%s: %w", EnvRecordTTL, err))
	case ttl > math.MaxInt32:
		errs = append(errs, fmt.Errorf("%s: %d exceeds the maximum TTL %d", EnvRecordTTL, ttl, math.MaxInt32))
	default:
		cfg.RecordTTL = uint32(ttl)
	}

	if _, ok := mdns.IsDomainName(cfg.DomainName); !ok || cfg.DomainName == "" {
		errs = append(errs, fmt.Errorf("%s: %q is not a valid domain name", EnvDomainName, cfg.DomainName))
	}
	if msgs := validateRecordName(cfg.RecordName); len(msgs) > 0 {
		errs = append(errs, fmt.Errorf("%s: %q: %s", EnvRecordName, cfg.RecordName, strings.Join(msgs, "; ")))
	}
	if _, ok := mdns.StringToType[cfg.RecordKind]; !ok {
		errs = append(errs, fmt.Errorf("%s: %q is not a DNS record type", EnvRecordKind, cfg.RecordKind))
	}

	if len(errs) > 0 {
		return nil, syncerr.New(syncerr.InvalidConfig, utilerrors.NewAggregate(errs))
	}
	return cfg, nil
}

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_]([A-Za-z0-9_-]*[A-Za-z0-9_])?$`)

// validateRecordName accepts "@" (the apex) and names relative to the
// domain. Labels may hold letters of either case, digits, "-" and "_"; the
// leftmost label may be "*".
func validateRecordName(name string) []string {
	if name == "@" {
		return nil
	}
	if strings.HasSuffix(name, ".") {
		return []string{"must be relative to the domain, without a trailing dot"}
	}
	if _, ok := mdns.IsDomainName(name); !ok {
		return []string{"is not a valid DNS name"}
	}

	var msgs []string
	for i, label := range mdns.SplitDomainName(name) {
		if i == 0 && label == "*" {
			continue
		}
		if !labelPattern.MatchString(label) {
			msgs = append(msgs, fmt.Sprintf("label %q must consist of letters, digits, '-' or '_' and must not start or end with '-'", label))
		}
	}
	return msgs
}

// Target returns the record set this configuration manages.
func (c *Config) Target() reconcile.Target {
	return reconcile.Target{
		Domain: c.DomainName,
		Name:   c.RecordName,
		Kind:   c.RecordKind,
		TTL:    int(c.RecordTTL),
	}
}

// ProviderSettings returns the settings passed to the provider factory.
func (c *Config) ProviderSettings() map[string]string {
	s := map[string]string{digitalocean.SettingAPIKey: c.APIKey}
	if c.APIURL != "" {
		s[digitalocean.SettingAPIURL] = c.APIURL
	}
	return s
}
