package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identifier names one keyring independently of any live handle. Equality is
// structural: two identifiers built separately for the same underlying store
// compare equal, which is what the registry keys on.
type Identifier struct {
	Provider string `json:"provider"`
	Path     string `json:"path"`
	Version  uint32 `json:"version"`
}

// IsZero reports whether the identifier names nothing.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s@%d", id.Provider, id.Path, id.Version)
}

// Class partitions records by what they hold.
type Class string

const (
	ClassGenericSecret Class = "genp"
	ClassCertificate   Class = "cert"
	ClassKey           Class = "key"
)

// PreferenceTypeTag marks generic-secret records that carry an identity
// preference. The tag is part of the record key together with the service
// string and the optional key-usage value.
const PreferenceTypeTag = "idpref"

// Backends store names and labels in fixed buffers; writers reject anything
// longer up front instead of truncating.
const (
	MaxServiceLen = 1024
	MaxLabelLen   = 255
)

// Record is one entry inside a keyring. Which fields are meaningful depends
// on the class: certificates carry Data (DER), Issuer and PublicKeyHash;
// keys carry PublicKeyHash for pairing; preference records carry Service,
// TypeTag, Usage and a persistent certificate reference in Generic.
type Record struct {
	ID            uuid.UUID `json:"id"`
	Class         Class     `json:"class"`
	Service       string    `json:"service,omitempty"`
	TypeTag       string    `json:"type_tag,omitempty"`
	Usage         int       `json:"usage,omitempty"`
	Account       string    `json:"account,omitempty"`
	Label         string    `json:"label,omitempty"`
	Issuer        []byte    `json:"issuer,omitempty"`
	PublicKeyHash []byte    `json:"public_key_hash,omitempty"`
	Generic       []byte    `json:"generic,omitempty"`
	Data          []byte    `json:"data,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Query is a conjunctive predicate over record attributes. Zero-valued fields
// do not constrain the search; Usage participates only when nonzero, matching
// how preference records overload it.
type Query struct {
	Class         Class
	Service       string
	TypeTag       string
	Usage         int
	PublicKeyHash []byte
}

// Matches reports whether the record satisfies every constrained attribute.
func (q Query) Matches(r Record) bool {
	if q.Class != "" && r.Class != q.Class {
		return false
	}
	if q.Service != "" && r.Service != q.Service {
		return false
	}
	if q.TypeTag != "" && r.TypeTag != q.TypeTag {
		return false
	}
	if q.Usage != 0 && r.Usage != q.Usage {
		return false
	}
	if len(q.PublicKeyHash) != 0 && string(r.PublicKeyHash) != string(q.PublicKeyHash) {
		return false
	}
	return true
}

// PersistentRef is the decoded form of the opaque blob that preference
// records store to point at a certificate. It survives process restarts and
// handle cache eviction because it names the store rather than a live handle.
type PersistentRef struct {
	Store    Identifier `json:"store"`
	RecordID uuid.UUID  `json:"record_id"`
}

// Encode renders the reference as the opaque blob stored in a record's
// Generic attribute.
func (p PersistentRef) Encode() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		// All fields are plain data; marshal cannot fail.
		panic(err)
	}
	return b
}

// DecodePersistentRef parses a blob previously produced by Encode.
func DecodePersistentRef(b []byte) (PersistentRef, error) {
	var p PersistentRef
	if err := json.Unmarshal(b, &p); err != nil {
		return PersistentRef{}, fmt.Errorf("decode persistent reference: %w", err)
	}
	if p.Store.IsZero() || p.RecordID == uuid.Nil {
		return PersistentRef{}, fmt.Errorf("decode persistent reference: missing store or record id")
	}
	return p, nil
}
