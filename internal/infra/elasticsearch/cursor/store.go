package cursor

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/datalode/ledgersync/internal/domain/cursor"
	"github.com/datalode/ledgersync/internal/domain/metadata"
	"github.com/datalode/ledgersync/internal/domain/stream"
	"github.com/datalode/ledgersync/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".ledgersync_cursors")

type EsStore struct {
	client *elasticsearch.Client
	getUTC func() time.Time // for mocking
}

// For testing
func (e *EsStore) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func NewStore(client *elasticsearch.Client) cursor.Store {
	return &EsStore{client: client, getUTC: func() time.Time {
		return time.Now().UTC()
	}}
}

func (e *EsStore) Get(ctx context.Context, streamName stream.Name) (*cursor.Cursor, error) {
	getReq := esapi.GetRequest{
		Index:      string(IndexName),
		DocumentID: string(streamName),
	}
	rawResp, err := getReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()

	switch rawResp.StatusCode {
	case 200:
		var response esHitPersistedCursor
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		retrieved := response.toDomainCursor()
		return &retrieved, nil
	case 404:
		return nil, cursor.NotFound{Stream: streamName}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// Advance moves a stream's cursor forward with a compare-and-set on the
// stored document. Two concurrent advancers (e.g. overlapping cycles after
// a crash-restart race) cannot both win: the loser gets StaleAdvance.
func (e *EsStore) Advance(ctx context.Context, streamName stream.Name, newPosition cursor.Token) (*cursor.Cursor, error) {
	now := e.getUTC()
	current, err := e.Get(ctx, streamName)
	if err != nil {
		if _, isNotFound := err.(cursor.NotFound); isNotFound {
			return e.createFirst(ctx, streamName, newPosition, now)
		}
		return nil, err
	}

	if !newPosition.Follows(current.Position) {
		return nil, cursor.StaleAdvance{
			Stream:    streamName,
			Stored:    current.Position,
			Attempted: newPosition,
			At:        now,
		}
	}

	advanced := cursor.Cursor{
		Stream:   streamName,
		Position: newPosition,
		Seq:      current.Seq + 1,
		Metadata: current.Metadata,
	}
	advanced.Metadata.ModifiedAt = metadata.ModifiedAt(now)

	toPersist := toPersistedCursor(&advanced)
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	// Index API with optimistic locking data to ensure we are _updating_
	// the exact revision we read.
	updateReq := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(streamName),
		Body:          bytes.NewReader(toPersistBytes),
		IfPrimaryTerm: esapi.IntPtr(int(current.Metadata.Version.PrimaryTerm)),
		IfSeqNo:       esapi.IntPtr(int(current.Metadata.Version.SeqNum)),
	}
	rawResp, err := updateReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	respStatus := rawResp.StatusCode
	switch {
	case 200 <= respStatus && respStatus <= 299:
		var resp common.EsUpdateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		advanced.Metadata.Version = resp.Version()
		return &advanced, nil
	case respStatus == 409:
		return nil, cursor.StaleAdvance{
			Stream:    streamName,
			Stored:    current.Position,
			Attempted: newPosition,
			At:        now,
		}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// createFirst stores the very first cursor for a stream. op_type=create
// makes the insert atomic: if another advancer creates it concurrently,
// this one loses with StaleAdvance.
func (e *EsStore) createFirst(ctx context.Context, streamName stream.Name, position cursor.Token, now time.Time) (*cursor.Cursor, error) {
	created := cursor.Cursor{
		Stream:   streamName,
		Position: position,
		Seq:      1,
		Metadata: metadata.Metadata{
			CreatedAt:  metadata.CreatedAt(now),
			ModifiedAt: metadata.ModifiedAt(now),
		},
	}
	toPersist := toPersistedCursor(&created)
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	createReq := esapi.CreateRequest{
		Index:      string(IndexName),
		DocumentID: string(streamName),
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
		created.Metadata.Version = response.Version()
		return &created, nil
	case statusCode == 409:
		return nil, cursor.StaleAdvance{
			Stream:    streamName,
			Attempted: position,
			At:        now,
		}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// Private persistence doc structures based entirely on basic types for ease
// of guaranteeing serdes.

type persistedCursorData struct {
	Stream   string                   `json:"stream"`
	Position string                   `json:"position"`
	Seq      uint64                   `json:"seq"`
	Metadata common.PersistedMetadata `json:"metadata"`
}

type esHitPersistedCursor struct {
	ID          string              `json:"_id"`
	SeqNum      uint64              `json:"_seq_no"`
	PrimaryTerm uint64              `json:"_primary_term"`
	Source      persistedCursorData `json:"_source"`
}

func (resp *esHitPersistedCursor) toDomainCursor() cursor.Cursor {
	p := resp.Source
	return cursor.Cursor{
		Stream:   stream.Name(p.Stream),
		Position: cursor.Token(p.Position),
		Seq:      cursor.SeqNum(p.Seq),
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

func toPersistedCursor(c *cursor.Cursor) persistedCursorData {
	return persistedCursorData{
		Stream:   string(c.Stream),
		Position: string(c.Position),
		Seq:      uint64(c.Seq),
		Metadata: common.PersistedMetadata{
			CreatedAt:  time.Time(c.Metadata.CreatedAt),
			ModifiedAt: time.Time(c.Metadata.ModifiedAt),
		},
	}
}
