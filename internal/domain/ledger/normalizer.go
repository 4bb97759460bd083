package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/datalode/ledgersync/internal/domain/cursor"
)

// Normalize parses one RawEvent into a typed Fact.
//
// Unknown event types are not an error: they normalize to an UNRECOGNIZED
// Fact that downstream folding accepts and ignores, so that streams stay
// consumable when the ledger starts emitting kinds this build predates.
//
// Malformed payloads (missing fields, wrong types) return a
// NormalizationFailure. Callers must treat that as per-event, never
// per-batch: one poison event does not block its siblings.
func Normalize(raw *RawEvent) (*Fact, error) {
	if raw.ID == "" {
		return nil, NormalizationFailure{EventID: EventId(raw.ID), Reason: "missing event id"}
	}
	if raw.Position == "" {
		return nil, NormalizationFailure{EventID: EventId(raw.ID), Reason: "missing position"}
	}

	fact := Fact{
		ID:       EventId(raw.ID),
		At:       raw.RecordedAt,
		Position: cursor.Token(raw.Position),
	}

	switch raw.Type {
	case datasetRegistered:
		var attrs registeredAttrs
		if err := decodeAttrs(raw, &attrs); err != nil {
			return nil, err
		}
		if attrs.ContentID == "" || attrs.Owner == "" {
			return nil, NormalizationFailure{EventID: fact.ID, Reason: "dataset_registered requires content_id and owner"}
		}
		fact.Kind = DATASET_REGISTERED
		fact.Content = ContentId(attrs.ContentID)
		fact.Subject = Subject(attrs.Owner)
		fact.Registered = &RegisteredPayload{
			Name:        attrs.Name,
			SizeBytes:   attrs.SizeBytes,
			MetadataURI: attrs.MetadataURI,
		}
	case licenseIssued:
		var attrs issuedAttrs
		if err := decodeAttrs(raw, &attrs); err != nil {
			return nil, err
		}
		if attrs.ContentID == "" || attrs.Licensee == "" || attrs.LicenseType == "" {
			return nil, NormalizationFailure{EventID: fact.ID, Reason: "license_issued requires content_id, licensee and license_type"}
		}
		fact.Kind = LICENSE_ISSUED
		fact.Content = ContentId(attrs.ContentID)
		fact.Subject = Subject(attrs.Licensee)
		fact.Issued = &IssuedPayload{
			Licensee:    Subject(attrs.Licensee),
			LicenseType: attrs.LicenseType,
			ExpiresAt:   attrs.ExpiresAt,
		}
	case licenseRevoked:
		var attrs revokedAttrs
		if err := decodeAttrs(raw, &attrs); err != nil {
			return nil, err
		}
		if attrs.LicenseID == "" {
			return nil, NormalizationFailure{EventID: fact.ID, Reason: "license_revoked requires license_id"}
		}
		fact.Kind = LICENSE_REVOKED
		fact.Subject = Subject(attrs.RevokedBy)
		fact.Revoked = &RevokedPayload{
			Target: EventId(attrs.LicenseID),
			Reason: attrs.Reason,
		}
	default:
		// Forward-compatibility: accepted, folded as a no-op.
		fact.Kind = UNRECOGNIZED
	}

	return &fact, nil
}

func decodeAttrs(raw *RawEvent, into interface{}) error {
	if len(raw.Attributes) == 0 {
		return NormalizationFailure{EventID: EventId(raw.ID), Reason: "missing attributes"}
	}
	if err := json.Unmarshal(raw.Attributes, into); err != nil {
		return NormalizationFailure{EventID: EventId(raw.ID), Reason: fmt.Sprintf("malformed attributes: %v", err)}
	}
	return nil
}

type registeredAttrs struct {
	ContentID   string `json:"content_id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	SizeBytes   uint64 `json:"size_bytes"`
	MetadataURI string `json:"metadata_uri"`
}

type issuedAttrs struct {
	ContentID   string     `json:"content_id"`
	Licensee    string     `json:"licensee"`
	LicenseType string     `json:"license_type"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type revokedAttrs struct {
	LicenseID string `json:"license_id"`
	RevokedBy string `json:"revoked_by"`
	Reason    string `json:"reason"`
}

// NormalizationFailure is returned when an event payload cannot be turned
// into a Fact. It names the offending event so that the failure can be
// recorded without stopping the batch.
type NormalizationFailure struct {
	EventID EventId
	Reason  string
}

func (e NormalizationFailure) Error() string {
	return fmt.Sprintf("Could not normalize event [%v]: %s", e.EventID, e.Reason)
}

func (e NormalizationFailure) Id() EventId {
	return e.EventID
}
