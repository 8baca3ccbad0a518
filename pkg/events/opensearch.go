package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// DefaultIndex is the OpenSearch index events are archived into.
const DefaultIndex = "taskq-events"

// OpenSearchSink indexes each event as a document.
type OpenSearchSink struct {
	client *opensearch.Client
	index  string
}

// NewOpenSearchSink returns a sink writing to index, or DefaultIndex when empty.
func NewOpenSearchSink(client *opensearch.Client, index string) (*OpenSearchSink, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if index == "" {
		index = DefaultIndex
	}
	return &OpenSearchSink{client: client, index: index}, nil
}

func (s *OpenSearchSink) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: s.index,
		Body:  bytes.NewReader(payload),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return errors.Join(ErrSinkFailed, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.IsError() {
		return errors.Join(ErrSinkFailed, fmt.Errorf("index %s: %s", s.index, res.Status()))
	}
	return nil
}
