package license

import (
	"context"
	"fmt"
	"time"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
)

type IssuedAt time.Time
type ExpiresAt time.Time
type RevokedAt time.Time

// License is the local projection of LicenseIssued / LicenseRevoked facts.
//
// A License is created on first application of its LicenseIssued fact and
// flipped to revoked by a matching LicenseRevoked fact. It is never
// deleted: history is preserved through the revocation flag, not row
// removal.
type License struct {
	ID          ledger.EventId // the LicenseIssued event id
	Dataset     ledger.ContentId
	Licensee    ledger.Subject
	LicenseType string
	IssuedAt    IssuedAt
	ExpiresAt   *ExpiresAt // nil means perpetual

	Revoked      bool
	RevokedAt    *RevokedAt
	RevokedBy    *ledger.Subject
	RevokeReason string

	Metadata metadata.Metadata
}

// FromFact projects a LicenseIssued fact. The caller guarantees the fact
// kind.
func FromFact(f *ledger.Fact) License {
	var expiresAt *ExpiresAt
	if f.Issued.ExpiresAt != nil {
		e := ExpiresAt(*f.Issued.ExpiresAt)
		expiresAt = &e
	}
	return License{
		ID:          f.ID,
		Dataset:     f.Content,
		Licensee:    f.Issued.Licensee,
		LicenseType: f.Issued.LicenseType,
		IssuedAt:    IssuedAt(f.At),
		ExpiresAt:   expiresAt,
	}
}

// IntoRevoked marks the license as revoked.
//
// Revoking an already-revoked license returns AlreadyRevoked; callers that
// fold at-least-once-delivered facts treat that as idempotent success.
func (l *License) IntoRevoked(by ledger.Subject, at RevokedAt, reason string) error {
	if l.Revoked {
		return AlreadyRevoked{ID: l.ID}
	}
	l.Revoked = true
	l.RevokedAt = &at
	l.RevokedBy = &by
	l.RevokeReason = reason
	return nil
}

// Store persists License projections keyed by ledger event id.
type Store interface {
	// Insert persists a new projection; fails with AlreadyExists if one with
	// the same ledger id is present (atomic insert-if-absent).
	Insert(ctx context.Context, l *License) (*License, error)

	// Get returns a projection by ledger id, or NotFound.
	Get(ctx context.Context, id ledger.EventId) (*License, error)

	// Revoke transitions the identified license to revoked.
	//
	// Errors out with
	//  1. NotFound if the license has not been materialized locally (the
	//     caller buffers the fact as an orphaned transition)
	//  2. AlreadyRevoked if a previous delivery already applied it
	//  3. InvalidVersion if it lost a concurrent update after retries
	Revoke(ctx context.Context, id ledger.EventId, by ledger.Subject, at RevokedAt, reason string) (*License, error)
}

// <-- Domain Errors

type NotFound struct {
	ID ledger.EventId
}

func (e NotFound) Error() string {
	return fmt.Sprintf("Could not find license [%v]", e.ID)
}

func (e NotFound) Id() ledger.EventId {
	return e.ID
}

type AlreadyExists struct {
	ID ledger.EventId
}

func (e AlreadyExists) Error() string {
	return fmt.Sprintf("License with ledger id [%v] already exists", e.ID)
}

func (e AlreadyExists) Id() ledger.EventId {
	return e.ID
}

type AlreadyRevoked struct {
	ID ledger.EventId
}

func (e AlreadyRevoked) Error() string {
	return fmt.Sprintf("License [%v] is already revoked", e.ID)
}

func (e AlreadyRevoked) Id() ledger.EventId {
	return e.ID
}

type InvalidVersion struct {
	ID ledger.EventId
}

func (e InvalidVersion) Error() string {
	return fmt.Sprintf("Version provided did not match persisted version for [%v]", e.ID)
}

func (e InvalidVersion) Id() ledger.EventId {
	return e.ID
}

//     Errors -->
