package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datalode/ledgersync/internal/domain/ledger"
)

var factAt = time.Date(2020, 3, 14, 15, 9, 26, 0, time.UTC)

func TestFromFact(t *testing.T) {
	fact := ledger.Fact{
		ID:      "ev-1",
		Kind:    ledger.DATASET_REGISTERED,
		Content: "bafy1",
		Subject: "alice",
		At:      factAt,
		Registered: &ledger.RegisteredPayload{
			Name:        "climate-obs",
			SizeBytes:   2048,
			MetadataURI: "ipfs://bafymeta",
		},
	}
	d := FromFact(&fact)
	assert.Equal(t, ledger.EventId("ev-1"), d.ID)
	assert.Equal(t, ledger.ContentId("bafy1"), d.Content)
	assert.Equal(t, ledger.Subject("alice"), d.Owner)
	assert.Equal(t, "climate-obs", d.Name)
	assert.EqualValues(t, 2048, d.SizeBytes)
	assert.Equal(t, "ipfs://bafymeta", d.MetadataURI)
	assert.EqualValues(t, factAt, d.RegisteredAt)
	assert.False(t, d.Verified)
	assert.Nil(t, d.VerifiedAt)
}

func TestDataset_IntoVerified(t *testing.T) {
	d := Dataset{ID: "ev-1", Content: "bafy1"}
	first := VerificationSummary{"status": "ok", "checked": 1}
	at := VerifiedAt(factAt)

	d.IntoVerified(first, at)
	assert.True(t, d.Verified)
	assert.Equal(t, &at, d.VerifiedAt)
	assert.Equal(t, &first, d.Verification)

	// last write wins
	second := VerificationSummary{"status": "ok", "checked": 2}
	later := VerifiedAt(factAt.Add(time.Hour))
	d.IntoVerified(second, later)
	assert.Equal(t, &later, d.VerifiedAt)
	assert.Equal(t, &second, d.Verification)
}
