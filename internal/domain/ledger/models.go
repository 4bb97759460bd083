package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datalode/ledgersync/internal/domain/cursor"
)

// EventId is the ledger-assigned identifier of an emitted event. It is
// globally unique per Kind and doubles as the idempotency key when facts
// are folded into local state.
type EventId string

// ContentId identifies a registered artifact (a dataset) by content address.
type ContentId string

// Subject is the ledger address of the actor that caused the event.
type Subject string

// RawEvent is one event as returned by the ledger read API, prior to
// normalization. Attributes is kind-specific and entirely untrusted.
type RawEvent struct {
	ID         string          `json:"id"`
	Stream     string          `json:"stream"`
	Type       string          `json:"type"`
	Position   string          `json:"position"`
	RecordedAt time.Time       `json:"recorded_at"`
	Attributes json.RawMessage `json:"attributes"`
}

// Batch is an ordered slice of RawEvents plus paging information.
type Batch struct {
	Events       []RawEvent
	NextPosition cursor.Token
	HasMore      bool
}

// Fact is the normalized, typed representation of one ledger event.
// Exactly one of the kind-specific payloads is non-nil, matching Kind;
// Unrecognized facts carry none.
type Fact struct {
	ID       EventId
	Kind     Kind
	Content  ContentId
	Subject  Subject
	At       time.Time
	Position cursor.Token

	Registered *RegisteredPayload
	Issued     *IssuedPayload
	Revoked    *RevokedPayload
}

// RegisteredPayload carries the DatasetRegistered-specific fields.
type RegisteredPayload struct {
	Name        string
	SizeBytes   uint64
	MetadataURI string
}

// IssuedPayload carries the LicenseIssued-specific fields. The fact's
// EventId is the license identifier.
type IssuedPayload struct {
	Licensee    Subject
	LicenseType string
	ExpiresAt   *time.Time // nil means perpetual
}

// RevokedPayload carries the LicenseRevoked-specific fields. Target is the
// EventId of the LicenseIssued fact being revoked.
type RevokedPayload struct {
	Target EventId
	Reason string
}

// Fact kind boilerplate galore
// The kind of a Fact that can be marshalled to and from JSON
type Kind uint8

const (
	DATASET_REGISTERED Kind = iota
	LICENSE_ISSUED
	LICENSE_REVOKED
	UNRECOGNIZED

	// Do not edit these
	datasetRegistered string = "dataset_registered"
	licenseIssued     string = "license_issued"
	licenseRevoked    string = "license_revoked"
	unrecognized      string = "unrecognized"
)

var toString = map[Kind]string{
	DATASET_REGISTERED: datasetRegistered,
	LICENSE_ISSUED:     licenseIssued,
	LICENSE_REVOKED:    licenseRevoked,
	UNRECOGNIZED:       unrecognized,
}

var toID = map[string]Kind{
	datasetRegistered: DATASET_REGISTERED,
	licenseIssued:     LICENSE_ISSUED,
	licenseRevoked:    LICENSE_REVOKED,
	unrecognized:      UNRECOGNIZED,
}

func (k Kind) String() string {
	return toString[k]
}

// MarshalJSON marshals the enum as a quoted json string
func (k Kind) MarshalJSON() ([]byte, error) {
	buffer := bytes.NewBufferString(`"`)
	buffer.WriteString(toString[k])
	buffer.WriteString(`"`)
	return buffer.Bytes(), nil
}

// UnmarshalJSON unmashals a quoted json string to the enum value
func (k *Kind) UnmarshalJSON(b []byte) error {
	var j string
	err := json.Unmarshal(b, &j)
	if err != nil {
		return err
	}
	if found, ok := toID[j]; ok {
		*k = found
		return nil
	} else {
		return fmt.Errorf("invalid kind: [%s]", string(b))
	}
}

// IsCreation returns true for kinds that materialize a new local record.
func (k Kind) IsCreation() bool {
	return k == DATASET_REGISTERED || k == LICENSE_ISSUED
}
