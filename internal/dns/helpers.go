package dns

import (
	"strings"
)

// FQDN joins a relative record name and its domain.
// e.g. ("www", "example.com") → "www.example.com"
// e.g. ("@", "example.com") → "example.com"
func FQDN(name, domain string) string {
	domain = strings.TrimSuffix(domain, ".")
	if name == "" || name == "@" {
		return domain
	}
	return name + "." + domain
}

// PublicAddresses returns the public network addresses of the instances in
// order of appearance. Duplicates are kept; callers collapse them.
func PublicAddresses(instances []Instance) []string {
	var out []string
	for _, inst := range instances {
		for _, nw := range inst.Networks {
			if nw.Type == NetworkPublic {
				out = append(out, nw.Address)
			}
		}
	}
	return out
}

// FilterRecords returns the records whose name and type match exactly.
func FilterRecords(records []Record, name, recordType string) []Record {
	var out []Record
	for _, r := range records {
		if r.Name == name && r.Type == recordType {
			out = append(out, r)
		}
	}
	return out
}
