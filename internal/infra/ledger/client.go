package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.elastic.co/apm/module/apmhttp"

	"github.com/datalode/ledgersync/internal/config"
	"github.com/datalode/ledgersync/internal/domain/cursor"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/stream"
)

// Client fetches event batches from the ledger read API over HTTP.
//
// The read API is strictly a poll interface: GET /v1/events with a stream
// name, an exclusive after-position, and a batch size limit, answered in
// ascending position order.
type Client struct {
	httpClient *http.Client
	config     config.LedgerClient
}

func NewClient(conf config.LedgerClient) ledger.Fetcher {
	return &Client{
		httpClient: apmhttp.WrapClient(&http.Client{}),
		config:     conf,
	}
}

func (c *Client) Fetch(ctx context.Context, streamName stream.Name, after cursor.Token, maxBatch uint) (*ledger.Batch, error) {
	fetchCtx := ctx
	if c.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, c.eventsURL(streamName, after, maxBatch), nil)
	if err != nil {
		return nil, ledger.PermanentFetchError{Stream: streamName, Underlying: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.config.User != nil {
		req.SetBasicAuth(c.config.User.Name, c.config.User.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// covers timeouts, DNS and connection failures
		return nil, ledger.TransientFetchError{Stream: streamName, Underlying: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 200:
		var body eventsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, ledger.TransientFetchError{Stream: streamName, Underlying: err}
		}
		return &ledger.Batch{
			Events:       body.Events,
			NextPosition: cursor.Token(body.NextCursor),
			HasMore:      body.HasMore,
		}, nil
	case resp.StatusCode == 404:
		return nil, ledger.PermanentFetchError{
			Stream:     streamName,
			Underlying: fmt.Errorf("stream does not exist on the ledger"),
		}
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return nil, ledger.TransientFetchError{
			Stream:     streamName,
			Underlying: fmt.Errorf("ledger answered with status [%d]", resp.StatusCode),
		}
	default:
		return nil, ledger.PermanentFetchError{
			Stream:     streamName,
			Underlying: fmt.Errorf("ledger answered with status [%d]", resp.StatusCode),
		}
	}
}

func (c *Client) eventsURL(streamName stream.Name, after cursor.Token, maxBatch uint) string {
	query := url.Values{}
	query.Set("stream", string(streamName))
	if !after.IsZero() {
		query.Set("after", string(after))
	}
	query.Set("limit", strconv.FormatUint(uint64(maxBatch), 10))
	return fmt.Sprintf("%s/v1/events?%s", c.config.Address, query.Encode())
}

type eventsResponse struct {
	Events     []ledger.RawEvent `json:"events"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}
