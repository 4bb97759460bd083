package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
)

// When the registration fact was recorded on the ledger
type RegisteredAt time.Time

// When a completed verification job last marked this dataset
type VerifiedAt time.Time

// VerificationSummary is the folded-in result of a completed verification
// job. Per the licensing rules, a completed job's result is the only
// authorized input to this field.
type VerificationSummary map[string]interface{}

// Dataset is the local projection of a DatasetRegistered fact, extended
// with the verification mark produced by the local job pipeline.
//
// The ledger event id is the idempotency key: applying the same
// registration fact twice is a no-op.
type Dataset struct {
	ID           ledger.EventId
	Content      ledger.ContentId
	Owner        ledger.Subject
	Name         string
	SizeBytes    uint64
	MetadataURI  string
	RegisteredAt RegisteredAt

	Verified     bool
	VerifiedAt   *VerifiedAt
	Verification *VerificationSummary

	Metadata metadata.Metadata
}

// FromFact projects a DatasetRegistered fact. The caller guarantees the
// fact kind; this is internal plumbing called right after normalization.
func FromFact(f *ledger.Fact) Dataset {
	return Dataset{
		ID:           f.ID,
		Content:      f.Content,
		Owner:        f.Subject,
		Name:         f.Registered.Name,
		SizeBytes:    f.Registered.SizeBytes,
		MetadataURI:  f.Registered.MetadataURI,
		RegisteredAt: RegisteredAt(f.At),
	}
}

// IntoVerified folds a completed verification result into the projection.
// Re-applying the same result is harmless; later results overwrite earlier
// ones (last write wins, in job completion order).
func (d *Dataset) IntoVerified(summary VerificationSummary, at VerifiedAt) {
	d.Verified = true
	d.VerifiedAt = &at
	d.Verification = &summary
}

// Store persists Dataset projections keyed by ledger event id.
type Store interface {
	// Insert persists a new projection; fails with AlreadyExists if a
	// projection with the same ledger id is already present (the insert is
	// atomic insert-if-absent).
	Insert(ctx context.Context, d *Dataset) (*Dataset, error)

	// Get returns a projection by ledger id, or NotFound.
	Get(ctx context.Context, id ledger.EventId) (*Dataset, error)

	// GetByContent returns a projection by content id, or NotFound.
	GetByContent(ctx context.Context, content ledger.ContentId) (*Dataset, error)

	// MarkVerified folds a verification result into the dataset with the
	// given content id. Fails with NotFound if no such dataset exists and
	// InvalidVersion if it lost a concurrent update.
	MarkVerified(ctx context.Context, content ledger.ContentId, summary VerificationSummary, at VerifiedAt) (*Dataset, error)
}

// <-- Domain Errors

type NotFound struct {
	ID      ledger.EventId
	Content ledger.ContentId
}

func (e NotFound) Error() string {
	return fmt.Sprintf("Could not find dataset [%v/%v]", e.ID, e.Content)
}

func (e NotFound) Id() ledger.EventId {
	return e.ID
}

type AlreadyExists struct {
	ID ledger.EventId
}

func (e AlreadyExists) Error() string {
	return fmt.Sprintf("Dataset with ledger id [%v] already exists", e.ID)
}

func (e AlreadyExists) Id() ledger.EventId {
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
