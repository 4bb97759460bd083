package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/datalode/ledgersync/internal/domain/cursor"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
	"github.com/datalode/ledgersync/internal/domain/reconcile"
	"github.com/datalode/ledgersync/internal/domain/stream"
	"github.com/datalode/ledgersync/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".ledgersync_orphaned_transitions")

// Upper bound on buffered orphans fetched per cycle. Orphans are rare and
// short-lived; if a stream accumulates more than this something upstream is
// badly wrong and the rest are picked up next cycle.
const searchSize = 1000

type EsOrphanStore struct {
	client *elasticsearch.Client
	getUTC func() time.Time // for mocking
}

// For testing
func (e *EsOrphanStore) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func NewOrphanStore(client *elasticsearch.Client) reconcile.OrphanStore {
	return &EsOrphanStore{client: client, getUTC: func() time.Time {
		return time.Now().UTC()
	}}
}

// Save persists a new orphan keyed by its fact id. op_type=create makes a
// re-delivery of the same orphaned fact a no-op; the stored record keeps
// its attempt count.
func (e *EsOrphanStore) Save(ctx context.Context, o *reconcile.OrphanedTransition) error {
	now := e.getUTC()
	toPersist := toPersistedOrphan(o)
	toPersist.Metadata = common.PersistedMetadata{
		CreatedAt:  now,
		ModifiedAt: now,
	}
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	createReq := esapi.CreateRequest{
		Index:      string(IndexName),
		DocumentID: string(o.Fact.ID),
		Body:       bytes.NewReader(toPersistBytes),
	}
	rawResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		return nil
	case statusCode == 409:
		// already buffered
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsOrphanStore) ForStream(ctx context.Context, streamName stream.Name) ([]reconcile.OrphanedTransition, error) {
	query := jsonObjMap{
		"term": jsonObjMap{
			"stream": string(streamName),
		},
	}
	return e.search(ctx, query)
}

func (e *EsOrphanStore) All(ctx context.Context) ([]reconcile.OrphanedTransition, error) {
	query := jsonObjMap{
		"match_all": jsonObjMap{},
	}
	return e.search(ctx, query)
}

func (e *EsOrphanStore) search(ctx context.Context, query jsonObjMap) ([]reconcile.OrphanedTransition, error) {
	queryBody := jsonObjMap{
		"from":                0,
		"size":                searchSize,
		"seq_no_primary_term": true,
		"sort": []jsonObjMap{
			{
				"first_seen_at": jsonObjMap{
					"order": "asc",
				},
			},
		},
		"query": query,
	}
	queryBodyAsJsonBytes, err := json.Marshal(queryBody)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	searchReq := esapi.SearchRequest{
		Index:             []string{string(IndexName)},
		IgnoreUnavailable: esapi.BoolPtr(true),
		AllowNoIndices:    esapi.BoolPtr(true),
		Body:              bytes.NewReader(queryBodyAsJsonBytes),
	}
	rawResp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var searchResp esSearchPersistedOrphan
		if err := json.NewDecoder(rawResp.Body).Decode(&searchResp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		orphans := make([]reconcile.OrphanedTransition, 0, len(searchResp.Hits.Hits))
		for _, hit := range searchResp.Hits.Hits {
			orphans = append(orphans, hit.toDomainOrphan())
		}
		return orphans, nil
	case 404:
		return nil, nil
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsOrphanStore) Update(ctx context.Context, o *reconcile.OrphanedTransition) error {
	now := e.getUTC()
	o.Metadata.ModifiedAt = metadata.ModifiedAt(now)
	toPersist := toPersistedOrphan(o)
	toPersist.Metadata = common.PersistedMetadata{
		CreatedAt:  time.Time(o.Metadata.CreatedAt),
		ModifiedAt: now,
	}
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	updateReq := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(o.Fact.ID),
		Body:          bytes.NewReader(toPersistBytes),
		IfPrimaryTerm: esapi.IntPtr(int(o.Metadata.Version.PrimaryTerm)),
		IfSeqNo:       esapi.IntPtr(int(o.Metadata.Version.SeqNum)),
	}
	rawResp, err := updateReq.Do(ctx, e.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		var response common.EsUpdateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return common.JsonSerdesErr{Underlying: []error{err}}
		}
		o.Metadata.Version = response.Version()
		return nil
	default:
		// A 409 here means another syncer touched the orphan; attempt and
		// escalation bookkeeping is advisory, so surface it and move on.
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsOrphanStore) Delete(ctx context.Context, id ledger.EventId) error {
	deleteReq := esapi.DeleteRequest{
		Index:      string(IndexName),
		DocumentID: string(id),
	}
	rawResp, err := deleteReq.Do(ctx, e.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200, 404:
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

type jsonObjMap map[string]interface{}

// Private persistence doc structures based entirely on basic types for ease
// of guaranteeing serdes.

type persistedOrphan struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Content     string    `json:"content,omitempty"`
	Subject     string    `json:"subject"`
	At          time.Time `json:"at"`
	Position    string    `json:"position"`
	Target      string    `json:"target"`
	Reason      string    `json:"reason,omitempty"`
	Stream      string    `json:"stream"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	Attempts    uint      `json:"attempts"`
	Escalated   bool      `json:"escalated"`

	Metadata common.PersistedMetadata `json:"metadata"`
}

type esHitPersistedOrphan struct {
	ID          string          `json:"_id"`
	SeqNum      uint64          `json:"_seq_no"`
	PrimaryTerm uint64          `json:"_primary_term"`
	Source      persistedOrphan `json:"_source"`
}

type esSearchPersistedOrphan struct {
	Hits struct {
		Hits []esHitPersistedOrphan `json:"hits"`
	} `json:"hits"`
}

func (resp *esHitPersistedOrphan) toDomainOrphan() reconcile.OrphanedTransition {
	p := resp.Source
	var kind ledger.Kind
	if err := kind.UnmarshalJSON([]byte(`"` + p.Kind + `"`)); err != nil {
		kind = ledger.UNRECOGNIZED
	}
	return reconcile.OrphanedTransition{
		Fact: ledger.Fact{
			ID:       ledger.EventId(p.ID),
			Kind:     kind,
			Content:  ledger.ContentId(p.Content),
			Subject:  ledger.Subject(p.Subject),
			At:       p.At,
			Position: cursor.Token(p.Position),
			Revoked: &ledger.RevokedPayload{
				Target: ledger.EventId(p.Target),
				Reason: p.Reason,
			},
		},
		Stream:      stream.Name(p.Stream),
		FirstSeenAt: p.FirstSeenAt,
		Attempts:    p.Attempts,
		Escalated:   p.Escalated,
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

func toPersistedOrphan(o *reconcile.OrphanedTransition) persistedOrphan {
	return persistedOrphan{
		ID:          string(o.Fact.ID),
		Kind:        o.Fact.Kind.String(),
		Content:     string(o.Fact.Content),
		Subject:     string(o.Fact.Subject),
		At:          o.Fact.At,
		Position:    string(o.Fact.Position),
		Target:      string(o.Fact.Revoked.Target),
		Reason:      o.Fact.Revoked.Reason,
		Stream:      string(o.Stream),
		FirstSeenAt: o.FirstSeenAt,
		Attempts:    o.Attempts,
		Escalated:   o.Escalated,
	}
}
