package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Resolution is the outcome of a host lookup. TenantID is empty for the null tenant.
type Resolution struct {
	TenantID string `json:"tenantId"`
	Domain   string `json:"domain"`
}

// Found reports whether the host mapped to a tenant.
func (r Resolution) Found() bool { return r.TenantID != "" }

// Lookup is one explicit host -> tenant source.
type Lookup interface {
	Lookup(ctx context.Context, host string) (tenantID string, found bool, err error)
}

// StaticLookup maps hosts declared in a tenants file.
type StaticLookup struct {
	hosts map[string]string
}

// NewStaticLookup builds a lookup from host -> tenant id pairs. Hosts are normalized.
func NewStaticLookup(hosts map[string]string) *StaticLookup {
	m := make(map[string]string, len(hosts))
	for host, id := range hosts {
		m[NormalizeHost(host)] = strings.TrimSpace(id)
	}
	return &StaticLookup{hosts: m}
}

func (s *StaticLookup) Lookup(_ context.Context, host string) (string, bool, error) {
	id, ok := s.hosts[host]
	return id, ok && id != "", nil
}

// Len is the number of hosts declared.
func (s *StaticLookup) Len() int { return len(s.hosts) }

type tenantsFile struct {
	Version int `yaml:"version"`
	Tenants []struct {
		ID      string   `yaml:"id"`
		Domains []string `yaml:"domains"`
	} `yaml:"tenants"`
}

// LoadStaticLookup reads a versioned YAML tenants file:
//
//	version: 1
//	tenants:
//	  - id: acme
//	    domains: [citas.acme.mx, acme.mx]
func LoadStaticLookup(path string) (*StaticLookup, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseStaticLookup(b)
}

// ParseStaticLookup parses the YAML tenants document.
func ParseStaticLookup(b []byte) (*StaticLookup, error) {
	var tf tenantsFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}
	if tf.Version != 1 {
		return nil, errors.New("tenants: unsupported version")
	}

	hosts := map[string]string{}
	for _, t := range tf.Tenants {
		if strings.TrimSpace(t.ID) == "" || len(t.Domains) == 0 {
			return nil, errors.New("tenants: invalid tenant")
		}
		for _, d := range t.Domains {
			host := NormalizeHost(d)
			if host == "" {
				return nil, fmt.Errorf("tenants: empty domain for %s", t.ID)
			}
			if prev, dup := hosts[host]; dup && prev != t.ID {
				return nil, fmt.Errorf("tenants: domain %s mapped twice", host)
			}
			hosts[host] = t.ID
		}
	}
	return NewStaticLookup(hosts), nil
}

// DomainResolver is the part of the tenant store used for table lookups.
type DomainResolver interface {
	ResolveDomain(ctx context.Context, domain string) (persistence.DomainRecord, error)
}

// DBLookup maps hosts through the tenant_domains table.
type DBLookup struct {
	store DomainResolver
}

func NewDBLookup(store DomainResolver) *DBLookup {
	if store == nil {
		panic("tenant db lookup: store is required")
	}
	return &DBLookup{store: store}
}

func (l *DBLookup) Lookup(ctx context.Context, host string) (string, bool, error) {
	rec, err := l.store.ResolveDomain(ctx, host)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return rec.TenantID, true, nil
}

// HostResolver maps a hostname to a tenant: explicit lookups first, in order, then the
// first label of a dotted host unless it is "www". It never writes.
type HostResolver struct {
	lookups []Lookup
}

// NewHostResolver chains the given lookups; nil entries are skipped.
func NewHostResolver(lookups ...Lookup) *HostResolver {
	r := &HostResolver{}
	for _, l := range lookups {
		if l != nil {
			r.lookups = append(r.lookups, l)
		}
	}
	return r
}

// ResolveTenantForHost returns the tenant for host. Lookup errors are returned so callers
// can choose to soft-fail.
func (r *HostResolver) ResolveTenantForHost(ctx context.Context, host string) (Resolution, error) {
	host = NormalizeHost(host)
	if host == "" {
		return Resolution{}, nil
	}

	for _, l := range r.lookups {
		id, found, err := l.Lookup(ctx, host)
		if err != nil {
			return Resolution{Domain: host}, fmt.Errorf("resolve host %s: %w", host, err)
		}
		if found {
			return Resolution{TenantID: id, Domain: host}, nil
		}
	}

	return Resolution{TenantID: subdomainCandidate(host), Domain: host}, nil
}

func subdomainCandidate(host string) string {
	label, _, ok := strings.Cut(host, ".")
	if !ok || label == "" || label == "www" {
		return ""
	}
	return label
}
