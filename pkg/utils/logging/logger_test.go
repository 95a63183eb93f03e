package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

func TestNewLevels(t *testing.T) {
	testCases := []struct {
		level string
		shown []string
		muted []string
	}{
		{"debug", []string{"debug msg", "info msg", "warn msg"}, nil},
		{"info", []string{"info msg", "warn msg"}, []string{"debug msg"}},
		{"WARNING", []string{"warn msg"}, []string{"debug msg", "info msg"}},
		{"error", nil, []string{"debug msg", "info msg", "warn msg"}},
		{"bogus", []string{"info msg"}, []string{"debug msg"}},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)
			logger.Debug("debug msg")
			logger.Info("info msg")
			logger.Warn("warn msg")

			for _, s := range tc.shown {
				gt.S(t, buf.String()).Contains(s)
			}
			for _, s := range tc.muted {
				gt.S(t, buf.String()).NotContains(s)
			}
		})
	}
}

func TestNewWithFormatJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := logging.NewWithFormat("info", logging.FormatJSON, buf)
	gt.NoError(t, err)

	logger.Error("store failed", "error", goerr.New("boom", goerr.V("session_id", "s1")))

	var entry map[string]any
	gt.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	gt.Equal(t, entry["msg"], "store failed")
	gt.S(t, buf.String()).Contains("s1")

	_, err = logging.NewWithFormat("info", "xml", buf)
	gt.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf).With("component", "recall")

	ctx := logging.With(context.Background(), logger)
	gt.Equal(t, logging.From(ctx), logger)

	logging.From(ctx).Info("hello")
	gt.S(t, buf.String()).Contains("component")
	gt.S(t, buf.String()).Contains("recall")
}

func TestDefaultLogger(t *testing.T) {
	original := logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })

	buf := &bytes.Buffer{}
	replaced := logging.New("warn", buf)
	logging.SetDefault(replaced)

	gt.Equal(t, logging.Default(), replaced)
	gt.Equal(t, logging.From(context.Background()), replaced)

	logging.From(context.Background()).Warn("from default")
	gt.S(t, buf.String()).Contains("from default")
}
