// Package fetch abstracts loading raw bytes, JSON documents, and
// JSON-Lines annotation files from local paths, HTTP servers, or S3
// object stores. Remote reads retry with a fixed bounded backoff;
// malformed JSON lines are recovered by progressively trimming
// trailing bytes before being abandoned.
package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	// DefaultRetryAttempts bounds remote fetch retries.
	DefaultRetryAttempts = 10
	// DefaultRetryBackoff is the fixed sleep between remote retries.
	DefaultRetryBackoff = time.Second
	// DefaultLineAttempts bounds trailing-garbage trims on one JSON line.
	DefaultLineAttempts = 20
)

const s3Scheme = "s3://"

// Source routes URIs to a concrete loader: `s3://` paths go to the
// object store, `http://` and `https://` to an HTTP server, everything
// else to the local filesystem. A zero-configured Source built by
// NewSource carries the default retry budget.
type Source struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	LineAttempts  int
	HTTPClient    *http.Client

	s3Once   sync.Once
	s3Client s3iface.S3API
	s3Err    error
}

func NewSource() *Source {
	return &Source{
		RetryAttempts: DefaultRetryAttempts,
		RetryBackoff:  DefaultRetryBackoff,
		LineAttempts:  DefaultLineAttempts,
		HTTPClient:    http.DefaultClient,
	}
}

// IsRemote reports whether uri is routed to a remote loader.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, s3Scheme) ||
		strings.HasPrefix(uri, "http://") ||
		strings.HasPrefix(uri, "https://")
}

// GetBytes
// Returns the full contents at uri. Remote reads are retried up to
// RetryAttempts times with RetryBackoff between attempts; exhaustion
// yields a *SourceUnavailable.
func (s *Source) GetBytes(uri string) ([]byte, error) {
	if !IsRemote(uri) {
		data, closer, err := readLocal(uri)
		if err != nil {
			return nil, err
		}
		defer closer()
		owned := make([]byte, len(data))
		copy(owned, data)
		return owned, nil
	}
	var lastErr error
	for attempt := 0; attempt < s.attempts(); attempt++ {
		data, err := s.fetchRemote(uri)
		if err == nil {
			return data, nil
		}
		lastErr = err
		log.Printf("fetch: failed to get %s, retry %d: %v",
			uri, attempt, err)
		time.Sleep(s.backoff())
	}
	return nil, &SourceUnavailable{
		URI:      uri,
		Attempts: s.attempts(),
		Err:      lastErr,
	}
}

// GetJSON
// Fetches uri and unmarshals the whole document into v.
func (s *Source) GetJSON(uri string, v interface{}) error {
	data, err := s.GetBytes(uri)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "fetch: cannot unmarshal %s", uri)
	}
	return nil
}

// GetJSONLines
// Fetches uri and parses it as JSON-Lines, one raw document per line.
// Each malformed line is retried by trimming trailing bytes (see
// DecodeJSONLine); a line that stays unparseable propagates a
// *MalformedRecord so the owning corpus can skip the sample rather
// than silently keep partial data. Lines of two characters or fewer
// are ignored, matching the annotation writer's blank-line padding.
func (s *Source) GetJSONLines(uri string) ([]json.RawMessage, error) {
	data, err := s.GetBytes(uri)
	if err != nil {
		return nil, err
	}
	records := make([]json.RawMessage, 0, bytes.Count(data, []byte{'\n'})+1)
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) <= 2 {
			continue
		}
		record, lineErr := DecodeJSONLine(trimmed, s.lineAttempts())
		if lineErr != nil {
			return nil, lineErr
		}
		records = append(records, record)
	}
	return records, nil
}

// DecodeJSONLine
// Parses one JSON-Lines line. On failure the line is retried with one
// trailing byte removed per attempt, up to maxAttempts, which recovers
// lines suffixed with stray garbage from interrupted shard writes. The
// returned message is an owned copy of the parsed region.
func DecodeJSONLine(line []byte, maxAttempts int) (json.RawMessage, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	original := string(line)
	candidate := line
	var lastErr error
	for attempt := 0; attempt < maxAttempts && len(candidate) > 0; attempt++ {
		if json.Valid(candidate) {
			owned := make(json.RawMessage, len(candidate))
			copy(owned, candidate)
			return owned, nil
		}
		lastErr = fmt.Errorf("invalid JSON after trimming %d bytes", attempt)
		candidate = candidate[:len(candidate)-1]
	}
	return nil, &MalformedRecord{Line: original, Err: lastErr}
}

func (s *Source) attempts() int {
	if s.RetryAttempts < 1 {
		return DefaultRetryAttempts
	}
	return s.RetryAttempts
}

func (s *Source) backoff() time.Duration {
	if s.RetryBackoff <= 0 {
		return DefaultRetryBackoff
	}
	return s.RetryBackoff
}

func (s *Source) lineAttempts() int {
	if s.LineAttempts < 1 {
		return DefaultLineAttempts
	}
	return s.LineAttempts
}

func (s *Source) httpClient() *http.Client {
	if s.HTTPClient == nil {
		return http.DefaultClient
	}
	return s.HTTPClient
}

func (s *Source) fetchRemote(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, s3Scheme) {
		return s.fetchS3(uri)
	}
	return s.fetchHTTP(uri)
}

func (s *Source) fetchHTTP(uri string) ([]byte, error) {
	resp, err := s.httpClient().Get(uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status code %d", resp.StatusCode)
	}
	counter := &writeCounter{
		last: time.Now(),
		path: uri,
		size: uint64(resp.ContentLength),
	}
	return io.ReadAll(io.TeeReader(resp.Body, counter))
}

func (s *Source) fetchS3(uri string) ([]byte, error) {
	client, err := s.objectStore()
	if err != nil {
		return nil, err
	}
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	var size uint64
	if out.ContentLength != nil {
		size = uint64(*out.ContentLength)
	}
	counter := &writeCounter{last: time.Now(), path: uri, size: size}
	return io.ReadAll(io.TeeReader(out.Body, counter))
}

func (s *Source) objectStore() (s3iface.S3API, error) {
	s.s3Once.Do(func() {
		if s.s3Client != nil {
			return
		}
		sess, err := session.NewSessionWithOptions(session.Options{
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			s.s3Err = errors.Wrap(err, "fetch: cannot create S3 session")
			return
		}
		s.s3Client = s3.New(sess)
	})
	return s.s3Client, s.s3Err
}

// SetObjectStore installs a preconstructed S3 client, used by tests and
// by callers with custom endpoints.
func (s *Source) SetObjectStore(client s3iface.S3API) {
	s.s3Client = client
	s.s3Once.Do(func() {})
}

func splitS3URI(uri string) (bucket string, key string, err error) {
	trimmed := strings.TrimPrefix(uri, s3Scheme)
	slash := strings.IndexByte(trimmed, '/')
	if slash <= 0 || slash == len(trimmed)-1 {
		return "", "", fmt.Errorf("fetch: malformed S3 URI %q", uri)
	}
	return trimmed[:slash], trimmed[slash+1:], nil
}

// writeCounter logs transfer progress every 10 seconds for long remote
// reads.
type writeCounter struct {
	total uint64
	last  time.Time
	path  string
	size  uint64
}

func (wc *writeCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.total += uint64(n)
	if time.Since(wc.last).Seconds() > 10 {
		wc.last = time.Now()
		log.Printf("Fetching %s... %s / %s completed.", wc.path,
			humanize.Bytes(wc.total), humanize.Bytes(wc.size))
	}
	return n, nil
}
