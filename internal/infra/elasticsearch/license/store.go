package license

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/license"
	"github.com/datalode/ledgersync/internal/domain/metadata"
	"github.com/datalode/ledgersync/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".ledgersync_licenses")

type EsStore struct {
	client *elasticsearch.Client
	getUTC func() time.Time // for mocking
}

// For testing
func (e *EsStore) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func NewStore(client *elasticsearch.Client) license.Store {
	return &EsStore{client: client, getUTC: func() time.Time {
		return time.Now().UTC()
	}}
}

// Insert is an atomic insert-if-absent keyed on the LicenseIssued event id.
func (e *EsStore) Insert(ctx context.Context, l *license.License) (*license.License, error) {
	now := e.getUTC()
	toPersist := toPersistedLicense(l)
	toPersist.Metadata = common.PersistedMetadata{
		CreatedAt:  now,
		ModifiedAt: now,
	}
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	createReq := esapi.CreateRequest{
		Index:      string(IndexName),
		DocumentID: string(l.ID),
		Body:       bytes.NewReader(toPersistBytes),
	}
	rawResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		var response common.EsCreateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		created := *l
		created.Metadata = metadata.Metadata{
			CreatedAt:  metadata.CreatedAt(now),
			ModifiedAt: metadata.ModifiedAt(now),
			Version:    response.Version(),
		}
		return &created, nil
	case statusCode == 409:
		return nil, license.AlreadyExists{ID: l.ID}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsStore) Get(ctx context.Context, id ledger.EventId) (*license.License, error) {
	getReq := esapi.GetRequest{
		Index:      string(IndexName),
		DocumentID: string(id),
	}
	rawResp, err := getReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var response esHitPersistedLicense
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		retrieved := response.toDomainLicense()
		return &retrieved, nil
	case 404:
		return nil, license.NotFound{ID: id}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// Revoke flips the stored license to revoked with a compare-and-set on the
// revision it read. A single attempt; callers decide whether InvalidVersion
// warrants a retry.
func (e *EsStore) Revoke(ctx context.Context, id ledger.EventId, by ledger.Subject, at license.RevokedAt, reason string) (*license.License, error) {
	current, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := current.IntoRevoked(by, at, reason); err != nil {
		return nil, err
	}
	return e.update(ctx, current)
}

func (e *EsStore) update(ctx context.Context, l *license.License) (*license.License, error) {
	now := e.getUTC()
	l.Metadata.ModifiedAt = metadata.ModifiedAt(now)
	toPersist := toPersistedLicense(l)
	toPersist.Metadata = common.PersistedMetadata{
		CreatedAt:  time.Time(l.Metadata.CreatedAt),
		ModifiedAt: now,
	}
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	updateReq := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(l.ID),
		Body:          bytes.NewReader(toPersistBytes),
		IfPrimaryTerm: esapi.IntPtr(int(l.Metadata.Version.PrimaryTerm)),
		IfSeqNo:       esapi.IntPtr(int(l.Metadata.Version.SeqNum)),
	}
	rawResp, err := updateReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		var response common.EsUpdateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		l.Metadata.Version = response.Version()
		return l, nil
	case statusCode == 409:
		return nil, license.InvalidVersion{ID: l.ID}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// Private persistence doc structures based entirely on basic types for ease
// of guaranteeing serdes.

type persistedLicense struct {
	ID           string     `json:"id"`
	Dataset      string     `json:"dataset"`
	Licensee     string     `json:"licensee"`
	LicenseType  string     `json:"license_type"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    *string    `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`

	Metadata common.PersistedMetadata `json:"metadata"`
}

type esHitPersistedLicense struct {
	ID          string           `json:"_id"`
	SeqNum      uint64           `json:"_seq_no"`
	PrimaryTerm uint64           `json:"_primary_term"`
	Source      persistedLicense `json:"_source"`
}

func (resp *esHitPersistedLicense) toDomainLicense() license.License {
	p := resp.Source
	var expiresAt *license.ExpiresAt
	if p.ExpiresAt != nil {
		v := license.ExpiresAt(*p.ExpiresAt)
		expiresAt = &v
	}
	var revokedAt *license.RevokedAt
	if p.RevokedAt != nil {
		v := license.RevokedAt(*p.RevokedAt)
		revokedAt = &v
	}
	var revokedBy *ledger.Subject
	if p.RevokedBy != nil {
		v := ledger.Subject(*p.RevokedBy)
		revokedBy = &v
	}
	return license.License{
		ID:           ledger.EventId(p.ID),
		Dataset:      ledger.ContentId(p.Dataset),
		Licensee:     ledger.Subject(p.Licensee),
		LicenseType:  p.LicenseType,
		IssuedAt:     license.IssuedAt(p.IssuedAt),
		ExpiresAt:    expiresAt,
		Revoked:      p.Revoked,
		RevokedAt:    revokedAt,
		RevokedBy:    revokedBy,
		RevokeReason: p.RevokeReason,
		Metadata: metadata.Metadata{
			CreatedAt:  metadata.CreatedAt(p.Metadata.CreatedAt),
			ModifiedAt: metadata.ModifiedAt(p.Metadata.ModifiedAt),
			Version: metadata.Version{
				SeqNum:      metadata.SeqNum(resp.SeqNum),
				PrimaryTerm: metadata.PrimaryTerm(resp.PrimaryTerm),
			},
		},
	}
}

func toPersistedLicense(l *license.License) persistedLicense {
	var expiresAt *time.Time
	if l.ExpiresAt != nil {
		v := time.Time(*l.ExpiresAt)
		expiresAt = &v
	}
	var revokedAt *time.Time
	if l.RevokedAt != nil {
		v := time.Time(*l.RevokedAt)
		revokedAt = &v
	}
	var revokedBy *string
	if l.RevokedBy != nil {
		v := string(*l.RevokedBy)
		revokedBy = &v
	}
	return persistedLicense{
		ID:           string(l.ID),
		Dataset:      string(l.Dataset),
		Licensee:     string(l.Licensee),
		LicenseType:  l.LicenseType,
		IssuedAt:     time.Time(l.IssuedAt),
		ExpiresAt:    expiresAt,
		Revoked:      l.Revoked,
		RevokedAt:    revokedAt,
		RevokedBy:    revokedBy,
		RevokeReason: l.RevokeReason,
	}
}
