package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
	"github.com/datalode/ledgersync/internal/domain/verification"
	"github.com/datalode/ledgersync/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".ledgersync_verification_jobs")

// Upper bound on reaped jobs per sweep; leftovers are swept next interval.
const reapSearchSize = 1000

type EsServiceSettings struct {
	VersionConflictRetryTimes uint
}

type EsService struct {
	client   *elasticsearch.Client
	settings EsServiceSettings
	getUTC   func() time.Time // for mocking
}

// For testing
func (e *EsService) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func NewService(client *elasticsearch.Client, settings EsServiceSettings) verification.Service {
	return &EsService{client: client, settings: settings, getUTC: func() time.Time {
		return time.Now().UTC()
	}}
}

func (e *EsService) Submit(ctx context.Context, newJob *verification.NewJob) (*verification.Job, error) {
	now := e.getUTC()
	job := verification.Job{
		ID:               verification.GenerateId(),
		UserId:           newJob.UserId,
		Input:            newJob.Input,
		State:            verification.PENDING,
		ExecutionTimeout: newJob.ExecutionTimeout,
		CreatedAt:        verification.CreatedAt(now),
	}
	toPersist := toPersistedJob(&job)
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
		DocumentID: string(job.ID),
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
		job.Metadata = metadata.Metadata{
			CreatedAt:  metadata.CreatedAt(now),
			ModifiedAt: metadata.ModifiedAt(now),
			Version:    response.Version(),
		}
		return &job, nil
	case statusCode == 409:
		return nil, verification.AlreadyExists{ID: job.ID}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) Get(ctx context.Context, jobId verification.Id) (*verification.Job, error) {
	getReq := esapi.GetRequest{
		Index:      string(IndexName),
		DocumentID: string(jobId),
	}
	rawResp, err := getReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var response esHitPersistedJob
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		retrieved := response.toDomainJob()
		return &retrieved, nil
	case 404:
		return nil, verification.NotFound{ID: jobId}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) ClaimPending(ctx context.Context, workerId verification.WorkerId, amount uint) ([]verification.Job, error) {
	pendingJobs, err := e.searchPending(ctx, amount)
	if err != nil {
		return nil, err
	}
	if len(pendingJobs) == 0 {
		return nil, nil
	}

	startedAt := verification.StartedAt(e.getUTC())
	// `range` returns a copy
	for i := 0; i < len(pendingJobs); i++ {
		toClaim := &pendingJobs[i]
		toClaim.IntoRunning(workerId, startedAt)
		toClaim.Metadata.ModifiedAt = metadata.ModifiedAt(time.Time(startedAt))
	}
	bulkResp, err := e.bulkUpdateJobs(ctx, pendingJobs)
	if err != nil {
		return nil, err
	}

	// Keep the ones we won; losses mean another worker claimed first, which
	// is exactly the exclusivity we want, so they are silently dropped.
	var claimed []verification.Job
	for idx, attempted := range pendingJobs {
		info := bulkResp.Items[idx].Info()
		if info.IsOk() {
			attempted.Metadata.Version = info.Version()
			claimed = append(claimed, attempted)
		}
	}
	return claimed, nil
}

func (e *EsService) MarkCompleted(ctx context.Context, jobId verification.Id, result *verification.Result) (*verification.Job, error) {
	return e.markTerminal(ctx, jobId, func(job *verification.Job, at verification.CompletedAt) error {
		return job.IntoCompleted(at, result)
	})
}

func (e *EsService) MarkFailed(ctx context.Context, jobId verification.Id, errMessage string) (*verification.Job, error) {
	return e.markTerminal(ctx, jobId, func(job *verification.Job, at verification.CompletedAt) error {
		return job.IntoFailed(at, errMessage)
	})
}

func (e *EsService) ReapTimedOut(ctx context.Context) (uint, error) {
	now := e.getUTC()
	overdue, err := e.searchOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	completedAt := verification.CompletedAt(now)
	for i := 0; i < len(overdue); i++ {
		job := &overdue[i]
		errMessage := verification.ExecutionTimedOut(time.Duration(job.ExecutionTimeout))
		if err := job.IntoFailed(completedAt, errMessage); err != nil {
			return 0, err
		}
		job.Metadata.ModifiedAt = metadata.ModifiedAt(now)
	}
	bulkResp, err := e.bulkUpdateJobs(ctx, overdue)
	if err != nil {
		return 0, err
	}
	// Conflicted items were touched concurrently (e.g. a slow worker finally
	// completed); leave those be.
	var reaped uint
	for _, item := range bulkResp.Items {
		info := item.Info()
		if info.IsOk() {
			reaped++
		}
	}
	return reaped, nil
}

func (e *EsService) DeleteTerminalBefore(ctx context.Context, olderThan verification.CompletedAt) (uint, error) {
	queryBody := jsonObjMap{
		"query": jsonObjMap{
			"bool": jsonObjMap{
				"filter": jsonObjMap{
					"bool": jsonObjMap{
						"must": []jsonObjMap{
							{
								"bool": jsonObjMap{
									"should": []jsonObjMap{
										{
											"term": jsonObjMap{
												"state": verification.COMPLETED.String(),
											},
										},
										{
											"term": jsonObjMap{
												"state": verification.FAILED.String(),
											},
										},
									},
								},
							},
							{
								"range": jsonObjMap{
									"completed_at": jsonObjMap{
										"lt": time.Time(olderThan).Format(time.RFC3339Nano),
									},
								},
							},
						},
					},
				},
			},
		},
	}
	queryBodyAsJsonBytes, err := json.Marshal(queryBody)
	if err != nil {
		return 0, common.JsonSerdesErr{Underlying: []error{err}}
	}
	deleteReq := esapi.DeleteByQueryRequest{
		Index:     []string{string(IndexName)},
		Body:      bytes.NewReader(queryBodyAsJsonBytes),
		Conflicts: "proceed",
	}
	rawResp, err := deleteReq.Do(ctx, e.client)
	if err != nil {
		return 0, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var response common.EsDeleteByQueryResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return 0, common.JsonSerdesErr{Underlying: []error{err}}
		}
		return response.Deleted, nil
	case 404:
		return 0, nil
	default:
		return 0, common.UnexpectedEsStatusError(rawResp)
	}
}

// Helper to mark a job as terminal (completed or failed), retrying version
// conflicts a bounded number of times.
func (e *EsService) markTerminal(ctx context.Context, jobId verification.Id, mutate func(job *verification.Job, at verification.CompletedAt) error) (*verification.Job, error) {
	runUpdate := func() (*verification.Job, error) {
		completedAt := e.getUTC()
		return e.getAndUpdate(ctx, jobId, func(job *verification.Job) error {
			return mutate(job, verification.CompletedAt(completedAt))
		}, metadata.ModifiedAt(completedAt))
	}
	result, err := runUpdate()
	timesRetried := uint(0)
	for err != nil && timesRetried < e.settings.VersionConflictRetryTimes {
		if _, isVersionConflict := err.(verification.InvalidVersion); !isVersionConflict {
			break
		}
		timesRetried++
		result, err = runUpdate()
	}
	return result, err
}

func (e *EsService) getAndUpdate(ctx context.Context, jobId verification.Id, mutate func(job *verification.Job) error, at metadata.ModifiedAt) (*verification.Job, error) {
	job, err := e.Get(ctx, jobId)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	job.Metadata.ModifiedAt = at

	toPersist := toPersistedJob(job)
	toPersist.Metadata = common.PersistedMetadata{
		CreatedAt:  time.Time(job.Metadata.CreatedAt),
		ModifiedAt: time.Time(at),
	}
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	updateReq := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(jobId),
		Body:          bytes.NewReader(toPersistBytes),
		IfPrimaryTerm: esapi.IntPtr(int(job.Metadata.Version.PrimaryTerm)),
		IfSeqNo:       esapi.IntPtr(int(job.Metadata.Version.SeqNum)),
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
		job.Metadata.Version = response.Version()
		return job, nil
	case statusCode == 409:
		return nil, verification.InvalidVersion{ID: jobId}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) searchPending(ctx context.Context, limit uint) ([]verification.Job, error) {
	queryBody := jsonObjMap{
		"from":                0,
		"size":                limit,
		"seq_no_primary_term": true,
		"sort": []jsonObjMap{
			{
				"created_at": jsonObjMap{
					"order": "asc",
				},
			},
		},
		"query": jsonObjMap{
			"term": jsonObjMap{
				"state": verification.PENDING.String(),
			},
		},
	}
	return e.search(ctx, queryBody)
}

func (e *EsService) searchOverdue(ctx context.Context, nowUtc time.Time) ([]verification.Job, error) {
	queryBody := jsonObjMap{
		"from":                0,
		"size":                reapSearchSize,
		"seq_no_primary_term": true,
		"query": jsonObjMap{
			"bool": jsonObjMap{
				"filter": jsonObjMap{
					"bool": jsonObjMap{
						"must": []jsonObjMap{
							{
								"term": jsonObjMap{
									"state": verification.RUNNING.String(),
								},
							},
							{
								"range": jsonObjMap{
									"times_out_at": jsonObjMap{
										"lte": nowUtc.Format(time.RFC3339Nano),
									},
								},
							},
						},
					},
				},
			},
		},
	}
	return e.search(ctx, queryBody)
}

func (e *EsService) search(ctx context.Context, queryBody jsonObjMap) ([]verification.Job, error) {
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
		var searchResp esSearchPersistedJob
		if err := json.NewDecoder(rawResp.Body).Decode(&searchResp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		jobs := make([]verification.Job, 0, len(searchResp.Hits.Hits))
		for _, hit := range searchResp.Hits.Hits {
			jobs = append(jobs, hit.toDomainJob())
		}
		return jobs, nil
	case 404:
		return nil, nil
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) bulkUpdateJobs(ctx context.Context, jobs []verification.Job) (*common.EsBulkResponse, error) {
	bulkReqBody, err := buildJobsBulkUpdateNdJsonBytes(jobs)
	if err != nil {
		return nil, err
	}
	bulkReq := esapi.BulkRequest{
		Body: bytes.NewReader(bulkReqBody),
	}
	rawResp, err := bulkReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	if rawResp.IsError() {
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
	var response common.EsBulkResponse
	if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	return &response, nil
}

func buildJobsBulkUpdateNdJsonBytes(jobs []verification.Job) ([]byte, error) {
	var errAcc []error
	var bytesAcc []byte
	for i := 0; i < len(jobs); i++ {
		pair := buildUpdateBulkOp(&jobs[i])
		opBytes, err := json.Marshal(pair.op)
		if err != nil {
			errAcc = append(errAcc, err)
		}
		if len(errAcc) == 0 {
			bytesAcc = append(bytesAcc, opBytes...)
			bytesAcc = append(bytesAcc, "\n"...)
		}

		docBytes, err := json.Marshal(pair.doc)
		if err != nil {
			errAcc = append(errAcc, err)
		}
		if len(errAcc) == 0 {
			bytesAcc = append(bytesAcc, docBytes...)
			bytesAcc = append(bytesAcc, "\n"...)
		}
	}
	if len(errAcc) != 0 {
		return nil, common.JsonSerdesErr{Underlying: errAcc}
	}
	return bytesAcc, nil
}

func buildUpdateBulkOp(job *verification.Job) updateJobBulkOpPair {
	doc := toPersistedJob(job)
	doc.Metadata = common.PersistedMetadata{
		CreatedAt:  time.Time(job.Metadata.CreatedAt),
		ModifiedAt: time.Time(job.Metadata.ModifiedAt),
	}
	return updateJobBulkOpPair{
		op: updateJobBulkPairOp{
			Index: updateJobBulkPairOpData{
				Id:            string(job.ID),
				Index:         string(IndexName),
				IfSeqNo:       uint64(job.Metadata.Version.SeqNum),
				IfPrimaryTerm: uint64(job.Metadata.Version.PrimaryTerm),
			},
		},
		doc: doc,
	}
}

type jsonObjMap map[string]interface{}

type updateJobBulkOpPair struct {
	op  updateJobBulkPairOp
	doc persistedJob
}

type updateJobBulkPairOp struct {
	Index updateJobBulkPairOpData `json:"index"`
}

type updateJobBulkPairOpData struct {
	Id            string `json:"_id"`
	Index         string `json:"_index"`
	IfSeqNo       uint64 `json:"if_seq_no"`
	IfPrimaryTerm uint64 `json:"if_primary_term"`
}

// Private persistence doc structures based entirely on basic types for ease
// of guaranteeing serdes.

type persistedJob struct {
	ID               string        `json:"id"`
	UserId           string        `json:"user_id"`
	Input            string        `json:"input"`
	State            string        `json:"state"`
	ExecutionTimeout time.Duration `json:"execution_timeout"`
	Result           *jsonObjMap   `json:"result,omitempty"`
	Error            string        `json:"error,omitempty"`
	ClaimedBy        *string       `json:"claimed_by,omitempty"`
	TimesOutAt       *time.Time    `json:"times_out_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`

	Metadata common.PersistedMetadata `json:"metadata"`
}

type esHitPersistedJob struct {
	ID          string       `json:"_id"`
	SeqNum      uint64       `json:"_seq_no"`
	PrimaryTerm uint64       `json:"_primary_term"`
	Source      persistedJob `json:"_source"`
}

type esSearchPersistedJob struct {
	Hits struct {
		Hits []esHitPersistedJob `json:"hits"`
	} `json:"hits"`
}

func (resp *esHitPersistedJob) toDomainJob() verification.Job {
	p := resp.Source
	var state verification.State
	if err := state.UnmarshalJSON([]byte(`"` + p.State + `"`)); err != nil {
		state = verification.FAILED
	}
	var result *verification.Result
	if p.Result != nil {
		r := verification.Result(*p.Result)
		result = &r
	}
	var claimedBy *verification.WorkerId
	if p.ClaimedBy != nil {
		w := verification.WorkerId(*p.ClaimedBy)
		claimedBy = &w
	}
	var timesOutAt *verification.TimesOutAt
	if p.TimesOutAt != nil {
		t := verification.TimesOutAt(*p.TimesOutAt)
		timesOutAt = &t
	}
	var startedAt *verification.StartedAt
	if p.StartedAt != nil {
		s := verification.StartedAt(*p.StartedAt)
		startedAt = &s
	}
	var completedAt *verification.CompletedAt
	if p.CompletedAt != nil {
		c := verification.CompletedAt(*p.CompletedAt)
		completedAt = &c
	}
	return verification.Job{
		ID:               verification.Id(p.ID),
		UserId:           verification.UserId(p.UserId),
		Input:            ledger.ContentId(p.Input),
		State:            state,
		ExecutionTimeout: verification.ExecutionTimeout(p.ExecutionTimeout),
		Result:           result,
		Error:            p.Error,
		ClaimedBy:        claimedBy,
		TimesOutAt:       timesOutAt,
		CreatedAt:        verification.CreatedAt(p.CreatedAt),
		StartedAt:        startedAt,
		CompletedAt:      completedAt,
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

func toPersistedJob(j *verification.Job) persistedJob {
	var result *jsonObjMap
	if j.Result != nil {
		r := jsonObjMap(*j.Result)
		result = &r
	}
	var claimedBy *string
	if j.ClaimedBy != nil {
		w := string(*j.ClaimedBy)
		claimedBy = &w
	}
	var timesOutAt *time.Time
	if j.TimesOutAt != nil {
		t := time.Time(*j.TimesOutAt)
		timesOutAt = &t
	}
	var startedAt *time.Time
	if j.StartedAt != nil {
		s := time.Time(*j.StartedAt)
		startedAt = &s
	}
	var completedAt *time.Time
	if j.CompletedAt != nil {
		c := time.Time(*j.CompletedAt)
		completedAt = &c
	}
	return persistedJob{
		ID:               string(j.ID),
		UserId:           string(j.UserId),
		Input:            string(j.Input),
		State:            j.State.String(),
		ExecutionTimeout: time.Duration(j.ExecutionTimeout),
		Result:           result,
		Error:            j.Error,
		ClaimedBy:        claimedBy,
		TimesOutAt:       timesOutAt,
		CreatedAt:        time.Time(j.CreatedAt),
		StartedAt:        startedAt,
		CompletedAt:      completedAt,
	}
}
