package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("minikern-test", "0.0.0", exporter))

	ctx := context.Background()

	_, sp := StartSpan(ctx, "syscall.open")
	sp.WithAttributes(map[string]string{"pid": "3"})
	EndSpan(sp, nil)

	_, sp = StartSpan(ctx, "syscall.read")
	EndSpan(sp, errors.New("bad descriptor"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "syscall.open", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestNilSpan(t *testing.T) {
	var sp *Span
	assert.Nil(t, sp.WithAttributes(map[string]string{"a": "b"}))
	EndSpan(nil, nil)
}

func TestInitWritesAndClosesFile(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, Shutdown(ctx))

	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")

	require.NoError(t, Init("minikern-test", "0.0.0", first))
	require.NotNil(t, output)

	// already installed: no second file is opened
	require.NoError(t, Init("minikern-test", "0.0.0", second))
	_, err := os.Stat(second)
	require.True(t, os.IsNotExist(err))

	_, sp := StartSpan(ctx, "syscall.write")
	EndSpan(sp, nil)

	f := output.(*os.File)

	require.NoError(t, Shutdown(ctx))
	require.Nil(t, output)
	require.Nil(t, provider)

	require.Error(t, f.Close(), "output file should already be closed")

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(data), "syscall.write")
}
