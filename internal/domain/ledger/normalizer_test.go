package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datalode/ledgersync/internal/domain/cursor"
)

var recordedAt = time.Date(2020, 3, 14, 15, 9, 26, 0, time.UTC)

func TestNormalize_datasetRegistered(t *testing.T) {
	raw := RawEvent{
		ID:         "ev-1",
		Stream:     "marketplace",
		Type:       "dataset_registered",
		Position:   "100",
		RecordedAt: recordedAt,
		Attributes: json.RawMessage(`{
			"content_id": "bafy1",
			"owner": "alice",
			"name": "climate-obs",
			"size_bytes": 2048,
			"metadata_uri": "ipfs://bafymeta"
		}`),
	}
	fact, err := Normalize(&raw)
	assert.NoError(t, err)
	assert.Equal(t, DATASET_REGISTERED, fact.Kind)
	assert.Equal(t, EventId("ev-1"), fact.ID)
	assert.Equal(t, ContentId("bafy1"), fact.Content)
	assert.Equal(t, Subject("alice"), fact.Subject)
	assert.Equal(t, cursor.Token("100"), fact.Position)
	assert.Equal(t, recordedAt, fact.At)
	assert.Equal(t, &RegisteredPayload{
		Name:        "climate-obs",
		SizeBytes:   2048,
		MetadataURI: "ipfs://bafymeta",
	}, fact.Registered)
	assert.Nil(t, fact.Issued)
	assert.Nil(t, fact.Revoked)
}

func TestNormalize_licenseIssued(t *testing.T) {
	expires := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := RawEvent{
		ID:         "ev-2",
		Type:       "license_issued",
		Position:   "101",
		RecordedAt: recordedAt,
		Attributes: json.RawMessage(`{
			"content_id": "bafy1",
			"licensee": "bob",
			"license_type": "research",
			"expires_at": "2021-01-01T00:00:00Z"
		}`),
	}
	fact, err := Normalize(&raw)
	assert.NoError(t, err)
	assert.Equal(t, LICENSE_ISSUED, fact.Kind)
	assert.Equal(t, Subject("bob"), fact.Subject)
	assert.Equal(t, &IssuedPayload{
		Licensee:    "bob",
		LicenseType: "research",
		ExpiresAt:   &expires,
	}, fact.Issued)
}

func TestNormalize_licenseIssued_perpetual(t *testing.T) {
	raw := RawEvent{
		ID:       "ev-2",
		Type:     "license_issued",
		Position: "101",
		Attributes: json.RawMessage(`{
			"content_id": "bafy1",
			"licensee": "bob",
			"license_type": "research"
		}`),
	}
	fact, err := Normalize(&raw)
	assert.NoError(t, err)
	assert.Nil(t, fact.Issued.ExpiresAt)
}

func TestNormalize_licenseRevoked(t *testing.T) {
	raw := RawEvent{
		ID:       "ev-3",
		Type:     "license_revoked",
		Position: "102",
		Attributes: json.RawMessage(`{
			"license_id": "ev-2",
			"revoked_by": "admin",
			"reason": "terms violated"
		}`),
	}
	fact, err := Normalize(&raw)
	assert.NoError(t, err)
	assert.Equal(t, LICENSE_REVOKED, fact.Kind)
	assert.Equal(t, Subject("admin"), fact.Subject)
	assert.Equal(t, &RevokedPayload{
		Target: "ev-2",
		Reason: "terms violated",
	}, fact.Revoked)
}

func TestNormalize_unknownTypeIsNotAnError(t *testing.T) {
	raw := RawEvent{
		ID:       "ev-4",
		Type:     "dataset_retired",
		Position: "103",
	}
	fact, err := Normalize(&raw)
	assert.NoError(t, err)
	assert.Equal(t, UNRECOGNIZED, fact.Kind)
	assert.False(t, fact.Kind.IsCreation())
}

func TestNormalize_failures(t *testing.T) {
	tests := []struct {
		name string
		raw  RawEvent
	}{
		{
			name: "missing event id",
			raw: RawEvent{
				Type:     "dataset_registered",
				Position: "1",
			},
		},
		{
			name: "missing position",
			raw: RawEvent{
				ID:   "ev-1",
				Type: "dataset_registered",
			},
		},
		{
			name: "missing attributes",
			raw: RawEvent{
				ID:       "ev-1",
				Type:     "dataset_registered",
				Position: "1",
			},
		},
		{
			name: "malformed attributes json",
			raw: RawEvent{
				ID:         "ev-1",
				Type:       "dataset_registered",
				Position:   "1",
				Attributes: json.RawMessage(`{"content_id": 12`),
			},
		},
		{
			name: "registration without owner",
			raw: RawEvent{
				ID:         "ev-1",
				Type:       "dataset_registered",
				Position:   "1",
				Attributes: json.RawMessage(`{"content_id": "bafy1"}`),
			},
		},
		{
			name: "issue without license type",
			raw: RawEvent{
				ID:         "ev-2",
				Type:       "license_issued",
				Position:   "2",
				Attributes: json.RawMessage(`{"content_id": "bafy1", "licensee": "bob"}`),
			},
		},
		{
			name: "revocation without target",
			raw: RawEvent{
				ID:         "ev-3",
				Type:       "license_revoked",
				Position:   "3",
				Attributes: json.RawMessage(`{"revoked_by": "admin"}`),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fact, err := Normalize(&tt.raw)
			assert.Nil(t, fact)
			assert.Error(t, err)
			assert.IsType(t, NormalizationFailure{}, err)
		})
	}
}

func TestKind_JsonRoundTrip(t *testing.T) {
	marshalled, err := json.Marshal(LICENSE_REVOKED)
	assert.NoError(t, err)
	assert.Equal(t, `"license_revoked"`, string(marshalled))

	var k Kind
	assert.NoError(t, json.Unmarshal([]byte(`"dataset_registered"`), &k))
	assert.Equal(t, DATASET_REGISTERED, k)
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &k))
}
