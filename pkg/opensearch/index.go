package opensearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// eventMapping keeps the fields the archive is queried by as keywords and
// dates; task updates and stats stay dynamic.
const eventMapping = `{
  "mappings": {
    "properties": {
      "type":       {"type": "keyword"},
      "queue_name": {"type": "keyword"},
      "task_id":    {"type": "keyword"},
      "timestamp":  {"type": "date"}
    }
  }
}`

// EnsureIndex creates index with the event mapping unless it already exists.
func EnsureIndex(ctx context.Context, client *opensearch.Client, index string) error {
	exists, err := opensearchapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, client)
	if err != nil {
		return errors.Join(ErrIndexSetup, err)
	}
	drain(exists.Body)
	switch exists.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return errors.Join(ErrIndexSetup, fmt.Errorf("check index %s: %s", index, exists.Status()))
	}

	res, err := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(eventMapping),
	}.Do(ctx, client)
	if err != nil {
		return errors.Join(ErrIndexSetup, err)
	}
	defer drain(res.Body)

	// another process may have created it between the two calls
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return errors.Join(ErrIndexSetup, fmt.Errorf("create index %s: %s", index, res.Status()))
	}
	return nil
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
