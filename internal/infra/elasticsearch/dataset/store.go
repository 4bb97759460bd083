package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/datalode/ledgersync/internal/domain/dataset"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
	"github.com/datalode/ledgersync/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".ledgersync_datasets")

type EsStore struct {
	client *elasticsearch.Client
	getUTC func() time.Time // for mocking
}

// For testing
func (e *EsStore) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func NewStore(client *elasticsearch.Client) dataset.Store {
	return &EsStore{client: client, getUTC: func() time.Time {
		return time.Now().UTC()
	}}
}

// Insert is an atomic insert-if-absent keyed on the ledger event id, which
// is what makes re-applying a replayed registration fact a no-op upstream.
func (e *EsStore) Insert(ctx context.Context, d *dataset.Dataset) (*dataset.Dataset, error) {
	now := e.getUTC()
	toPersist := toPersistedDataset(d)
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
		DocumentID: string(d.ID),
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
		created := *d
		created.Metadata = metadata.Metadata{
			CreatedAt:  metadata.CreatedAt(now),
			ModifiedAt: metadata.ModifiedAt(now),
			Version:    response.Version(),
		}
		return &created, nil
	case statusCode == 409:
		return nil, dataset.AlreadyExists{ID: d.ID}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsStore) Get(ctx context.Context, id ledger.EventId) (*dataset.Dataset, error) {
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
		var response esHitPersistedDataset
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		retrieved := response.toDomainDataset()
		return &retrieved, nil
	case 404:
		return nil, dataset.NotFound{ID: id}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsStore) GetByContent(ctx context.Context, content ledger.ContentId) (*dataset.Dataset, error) {
	queryBody := jsonObjMap{
		"from":                0,
		"size":                1,
		"seq_no_primary_term": true,
		"query": jsonObjMap{
			"term": jsonObjMap{
				"content": string(content),
			},
		},
	}
	queryBodyAsJsonBytes, err := json.Marshal(queryBody)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	searchReq := esapi.SearchRequest{
		Index: []string{string(IndexName)},
		Body:  bytes.NewReader(queryBodyAsJsonBytes),
	}
	rawResp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var response esSearchPersistedDataset
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		if len(response.Hits.Hits) == 0 {
			return nil, dataset.NotFound{Content: content}
		}
		retrieved := response.Hits.Hits[0].toDomainDataset()
		return &retrieved, nil
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// MarkVerified is a single compare-and-set attempt; callers that want
// retries on InvalidVersion loop at their level.
func (e *EsStore) MarkVerified(ctx context.Context, content ledger.ContentId, summary dataset.VerificationSummary, at dataset.VerifiedAt) (*dataset.Dataset, error) {
	current, err := e.GetByContent(ctx, content)
	if err != nil {
		return nil, err
	}
	current.IntoVerified(summary, at)
	return e.update(ctx, current)
}

func (e *EsStore) update(ctx context.Context, d *dataset.Dataset) (*dataset.Dataset, error) {
	now := e.getUTC()
	d.Metadata.ModifiedAt = metadata.ModifiedAt(now)
	toPersist := toPersistedDataset(d)
	toPersist.Metadata = common.PersistedMetadata{
		CreatedAt:  time.Time(d.Metadata.CreatedAt),
		ModifiedAt: now,
	}
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	updateReq := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(d.ID),
		Body:          bytes.NewReader(toPersistBytes),
		IfPrimaryTerm: esapi.IntPtr(int(d.Metadata.Version.PrimaryTerm)),
		IfSeqNo:       esapi.IntPtr(int(d.Metadata.Version.SeqNum)),
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
		d.Metadata.Version = response.Version()
		return d, nil
	case statusCode == 409:
		return nil, dataset.InvalidVersion{ID: d.ID}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

type jsonObjMap map[string]interface{}

// Private persistence doc structures based entirely on basic types for ease
// of guaranteeing serdes.

type persistedDataset struct {
	ID           string                  `json:"id"`
	Content      string                  `json:"content"`
	Owner        string                  `json:"owner"`
	Name         string                  `json:"name"`
	SizeBytes    uint64                  `json:"size_bytes"`
	MetadataURI  string                  `json:"metadata_uri"`
	RegisteredAt time.Time               `json:"registered_at"`
	Verified     bool                    `json:"verified"`
	VerifiedAt   *time.Time              `json:"verified_at,omitempty"`
	Verification *map[string]interface{} `json:"verification,omitempty"`

	Metadata common.PersistedMetadata `json:"metadata"`
}

type esHitPersistedDataset struct {
	ID          string           `json:"_id"`
	SeqNum      uint64           `json:"_seq_no"`
	PrimaryTerm uint64           `json:"_primary_term"`
	Source      persistedDataset `json:"_source"`
}

type esSearchPersistedDataset struct {
	Hits struct {
		Hits []esHitPersistedDataset `json:"hits"`
	} `json:"hits"`
}

func (resp *esHitPersistedDataset) toDomainDataset() dataset.Dataset {
	p := resp.Source
	var verifiedAt *dataset.VerifiedAt
	if p.VerifiedAt != nil {
		v := dataset.VerifiedAt(*p.VerifiedAt)
		verifiedAt = &v
	}
	var verification *dataset.VerificationSummary
	if p.Verification != nil {
		s := dataset.VerificationSummary(*p.Verification)
		verification = &s
	}
	return dataset.Dataset{
		ID:           ledger.EventId(p.ID),
		Content:      ledger.ContentId(p.Content),
		Owner:        ledger.Subject(p.Owner),
		Name:         p.Name,
		SizeBytes:    p.SizeBytes,
		MetadataURI:  p.MetadataURI,
		RegisteredAt: dataset.RegisteredAt(p.RegisteredAt),
		Verified:     p.Verified,
		VerifiedAt:   verifiedAt,
		Verification: verification,
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

func toPersistedDataset(d *dataset.Dataset) persistedDataset {
	var verifiedAt *time.Time
	if d.VerifiedAt != nil {
		v := time.Time(*d.VerifiedAt)
		verifiedAt = &v
	}
	var verification *map[string]interface{}
	if d.Verification != nil {
		s := map[string]interface{}(*d.Verification)
		verification = &s
	}
	return persistedDataset{
		ID:           string(d.ID),
		Content:      string(d.Content),
		Owner:        string(d.Owner),
		Name:         d.Name,
		SizeBytes:    d.SizeBytes,
		MetadataURI:  d.MetadataURI,
		RegisteredAt: time.Time(d.RegisteredAt),
		Verified:     d.Verified,
		VerifiedAt:   verifiedAt,
		Verification: verification,
	}
}
