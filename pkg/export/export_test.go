package export_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/export"
	"github.com/dsa110/taskq/pkg/monitor"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

var generated = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func sampleReport() *monitor.Report {
	return &monitor.Report{
		Health: monitor.Health{
			Status:     monitor.StatusDegraded,
			Message:    "Queue depth 600 above warning threshold 500",
			QueueDepth: 600,
			Warnings:   []string{"Queue depth 600 above warning threshold 500"},
		},
		GeneratedAt: generated,
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		data, err := export.Encode(export.FormatJSON, sampleReport())
		require.NoError(t, err)

		var decoded monitor.Report
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, monitor.StatusDegraded, decoded.Health.Status)
		assert.Equal(t, 600, decoded.Health.QueueDepth)
	})

	t.Run("prometheus", func(t *testing.T) {
		t.Parallel()

		data, err := export.Encode(export.FormatPrometheus, sampleReport())
		require.NoError(t, err)
		assert.Contains(t, string(data), "taskq_")
	})

	t.Run("nil report", func(t *testing.T) {
		t.Parallel()

		_, err := export.Encode(export.FormatJSON, nil)
		assert.ErrorIs(t, err, export.ErrNilReport)
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		_, err := export.Encode("xml", sampleReport())
		assert.ErrorIs(t, err, export.ErrUnknownFormat)
	})
}

func TestFileExporter(t *testing.T) {
	t.Parallel()

	t.Run("writes and overwrites", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "reports", "latest.json")
		exp, err := export.NewFileExporter(path, export.FormatJSON)
		require.NoError(t, err)

		r := sampleReport()
		require.NoError(t, exp.Export(context.Background(), r))

		r.Health.QueueDepth = 700
		require.NoError(t, exp.Export(context.Background(), r))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var decoded monitor.Report
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, 700, decoded.Health.QueueDepth)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temporary files must not be left behind")
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()

		_, err := export.NewFileExporter("", export.FormatJSON)
		assert.ErrorIs(t, err, export.ErrInvalidConfig)
	})

	t.Run("bad format", func(t *testing.T) {
		t.Parallel()

		_, err := export.NewFileExporter(filepath.Join(t.TempDir(), "r"), "csv")
		assert.ErrorIs(t, err, export.ErrUnknownFormat)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "latest.json")
		exp, err := export.NewFileExporter(path, "")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, exp.Export(ctx, sampleReport()), context.Canceled)
		assert.NoFileExists(t, path)
	})
}

func newS3Exporter(t *testing.T, client export.S3Client, format export.Format) *export.S3Exporter {
	t.Helper()

	exp, err := export.NewS3Exporter(context.Background(), export.Config{
		S3Bucket: "ops",
		S3Prefix: "/taskq/reports/",
		Format:   format,
	}, export.WithS3Client(client))
	require.NoError(t, err)
	return exp
}

func TestS3Exporter_Export(t *testing.T) {
	t.Parallel()

	t.Run("uploads report under prefix", func(t *testing.T) {
		t.Parallel()

		client := new(MockS3Client)
		exp := newS3Exporter(t, client, export.FormatJSON)

		var body []byte
		client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
			return *in.Bucket == "ops" &&
				*in.Key == "taskq/reports/report-20260314T092653Z.json" &&
				*in.ContentType == "application/json"
		})).Run(func(args mock.Arguments) {
			in := args.Get(1).(*s3.PutObjectInput)
			body, _ = io.ReadAll(in.Body)
		}).Return(&s3.PutObjectOutput{}, nil).Once()

		require.NoError(t, exp.Export(context.Background(), sampleReport()))
		client.AssertExpectations(t)
		assert.Contains(t, string(body), `"queue_depth": 600`)
	})

	t.Run("prometheus extension", func(t *testing.T) {
		t.Parallel()

		exp := newS3Exporter(t, new(MockS3Client), export.FormatPrometheus)
		assert.Equal(t, "taskq/reports/report-20260314T092653Z.prom", exp.Key(generated))
	})

	t.Run("zero timestamp uses clock", func(t *testing.T) {
		t.Parallel()

		client := new(MockS3Client)
		exp, err := export.NewS3Exporter(context.Background(), export.Config{S3Bucket: "ops"},
			export.WithS3Client(client),
			export.WithS3Clock(func() time.Time { return generated.Add(time.Hour) }))
		require.NoError(t, err)

		client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
			return *in.Key == "report-20260314T102653Z.json"
		})).Return(&s3.PutObjectOutput{}, nil).Once()

		r := sampleReport()
		r.GeneratedAt = time.Time{}
		require.NoError(t, exp.Export(context.Background(), r))
		client.AssertExpectations(t)
	})

	errorCases := []struct {
		name string
		err  error
		want error
	}{
		{"missing bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, export.ErrBucketNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, export.ErrAccessDenied},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, export.ErrServiceUnavailable},
		{"request timeout", &smithy.GenericAPIError{Code: "RequestTimeout"}, export.ErrOperationTimeout},
		{"deadline", context.DeadlineExceeded, export.ErrOperationTimeout},
		{"canceled", context.Canceled, export.ErrOperationCanceled},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := new(MockS3Client)
			exp := newS3Exporter(t, client, export.FormatJSON)
			client.On("PutObject", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			err := exp.Export(context.Background(), sampleReport())
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("unclassified error is wrapped", func(t *testing.T) {
		t.Parallel()

		client := new(MockS3Client)
		exp := newS3Exporter(t, client, export.FormatJSON)
		boom := errors.New("boom")
		client.On("PutObject", mock.Anything, mock.Anything).Return(nil, boom).Once()

		err := exp.Export(context.Background(), sampleReport())
		assert.ErrorIs(t, err, boom)
		assert.True(t, strings.HasPrefix(err.Error(), "export: upload report"))
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()

		_, err := export.New(context.Background(), export.Config{})
		assert.ErrorIs(t, err, export.ErrNotConfigured)
	})

	t.Run("file", func(t *testing.T) {
		t.Parallel()

		exp, err := export.New(context.Background(), export.Config{FilePath: filepath.Join(t.TempDir(), "r.json")})
		require.NoError(t, err)
		assert.IsType(t, &export.FileExporter{}, exp)
	})

	t.Run("s3 wins over file", func(t *testing.T) {
		t.Parallel()

		exp, err := export.New(context.Background(), export.Config{
			FilePath: filepath.Join(t.TempDir(), "r.json"),
			S3Bucket: "ops",
		}, export.WithS3Client(new(MockS3Client)))
		require.NoError(t, err)
		assert.IsType(t, &export.S3Exporter{}, exp)
	})

	t.Run("s3 without region", func(t *testing.T) {
		t.Parallel()

		_, err := export.New(context.Background(), export.Config{S3Bucket: "ops"})
		assert.ErrorIs(t, err, export.ErrInvalidConfig)
	})
}

func TestHook(t *testing.T) {
	t.Parallel()

	var calls int
	hook := export.Hook(export.ExporterFunc(func(ctx context.Context, r *monitor.Report) error {
		calls++
		return errors.New("disk full")
	}), nil)

	assert.NotPanics(t, func() { hook(context.Background(), sampleReport()) })
	assert.Equal(t, 1, calls)
}
