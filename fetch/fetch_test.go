package fetch

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource() *Source {
	src := NewSource()
	src.RetryAttempts = 3
	src.RetryBackoff = time.Millisecond
	return src
}

func TestGetBytesLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0644))

	src := newTestSource()
	data, err := src.GetBytes(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestGetBytesHTTPRetriesTransientFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			calls += 1
			if calls < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("payload"))
		}))
	defer server.Close()

	src := newTestSource()
	data, err := src.GetBytes(server.URL + "/blob")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, 3, calls)
}

func TestGetBytesExhaustsRetryBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
	defer server.Close()

	src := newTestSource()
	_, err := src.GetBytes(server.URL + "/blob")
	require.Error(t, err)
	var unavailable *SourceUnavailable
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 3, unavailable.Attempts)
}

func TestGetJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"root": "images/", "length": 20}`), 0644))

	src := newTestSource()
	var meta struct {
		Root   string `json:"root"`
		Length int    `json:"length"`
	}
	require.NoError(t, src.GetJSON(path, &meta))
	assert.Equal(t, "images/", meta.Root)
	assert.Equal(t, 20, meta.Length)
}

func TestDecodeJSONLineRecoversTrailingGarbage(t *testing.T) {
	line := []byte(`{"texts": ["hello"]}` + `,,,`)
	record, err := DecodeJSONLine(line, DefaultLineAttempts)
	require.NoError(t, err)
	var decoded map[string][]string
	require.NoError(t, json.Unmarshal(record, &decoded))
	assert.Equal(t, []string{"hello"}, decoded["texts"])
}

func TestDecodeJSONLineGivesUpAndKeepsRawLine(t *testing.T) {
	line := []byte(strings.Repeat("not json at all ", 4))
	_, err := DecodeJSONLine(line, DefaultLineAttempts)
	require.Error(t, err)
	var malformed *MalformedRecord
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, string(line), malformed.Line)
}

func TestGetJSONLinesSkipsBlankAndShortLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.jsonl")
	content := "{\"id\": 0}\n\n{}\n  \n{\"id\": 1}garbage\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	src := newTestSource()
	records, err := src.GetJSONLines(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	var first, second map[string]int
	require.NoError(t, json.Unmarshal(records[0], &first))
	require.NoError(t, json.Unmarshal(records[1], &second))
	assert.Equal(t, 0, first["id"])
	assert.Equal(t, 1, second["id"])
}

func TestGetJSONLinesPropagatesUnrecoverableLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.jsonl")
	bad := strings.Repeat("####", 16)
	require.NoError(t, os.WriteFile(path,
		[]byte("{\"id\": 0}\n"+bad+"\n"), 0644))

	src := newTestSource()
	_, err := src.GetJSONLines(path)
	var malformed *MalformedRecord
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, bad, malformed.Line)
}

func TestSplitS3URI(t *testing.T) {
	bucket, key, err := splitS3URI("s3://mllm-cc/raw-images/abc123")
	require.NoError(t, err)
	assert.Equal(t, "mllm-cc", bucket)
	assert.Equal(t, "raw-images/abc123", key)

	_, _, err = splitS3URI("s3://bucketonly")
	assert.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("s3://bucket/key"))
	assert.True(t, IsRemote("https://example.com/x"))
	assert.False(t, IsRemote("/data/shards/a.jsonl"))
	assert.False(t, IsRemote("relative/path.json"))
}
