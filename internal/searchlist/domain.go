package searchlist

import (
	"fmt"

	"keyward/pkg/platform/sentinel"
)

// Domain partitions search lists by scope. User and System lists are
// persisted; the Common list is shared infrastructure appended to every
// effective list; the Dynamic list tracks transient stores (removable media,
// remote mounts) and is never written to disk.
type Domain int

const (
	DomainUser Domain = iota
	DomainSystem
	DomainCommon
	DomainDynamic
)

var domainNames = map[Domain]string{
	DomainUser:    "user",
	DomainSystem:  "system",
	DomainCommon:  "common",
	DomainDynamic: "dynamic",
}

func (d Domain) String() string {
	if name, ok := domainNames[d]; ok {
		return name
	}
	return fmt.Sprintf("domain(%d)", int(d))
}

// Valid reports whether d is one of the defined domains.
func (d Domain) Valid() bool {
	_, ok := domainNames[d]
	return ok
}

// Persistent reports whether search lists in this domain survive restarts.
func (d Domain) Persistent() bool {
	return d != DomainDynamic
}

// ParseDomain maps a wire name back to a Domain.
func ParseDomain(name string) (Domain, error) {
	for d, n := range domainNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", sentinel.ErrInvalidDomain, name)
}

// Domains lists every domain in precedence order.
func Domains() []Domain {
	return []Domain{DomainUser, DomainSystem, DomainCommon, DomainDynamic}
}
