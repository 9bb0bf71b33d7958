package core

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"devgate/logger"
	"devgate/models"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
)

const (
	ModeReverse = "reverse"
	ModeForward = "forward"

	defaultMaxBodyBytes = 1 << 20
	recorderQueueSize   = 256
)

// TrafficStore persists captured exchanges.
type TrafficStore interface {
	InsertTraffic(ctx context.Context, entry *models.TrafficEntry) error
}

type RecorderOptions struct {
	MaxBodyBytes int64
	QueueSize    int
}

// Recorder captures proxied exchanges and writes them to a TrafficStore from a single
// background goroutine. A nil *Recorder records nothing.
type Recorder struct {
	store   TrafficStore
	maxBody int64
	queue   chan *models.TrafficEntry

	exclusions atomic.Pointer[[]compiledExclusion]

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewRecorder(store TrafficStore, opts RecorderOptions) *Recorder {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = recorderQueueSize
	}
	r := &Recorder{
		store:   store,
		maxBody: opts.MaxBodyBytes,
		queue:   make(chan *models.TrafficEntry, opts.QueueSize),
	}
	empty := []compiledExclusion{}
	r.exclusions.Store(&empty)

	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for entry := range r.queue {
		if err := r.store.InsertTraffic(context.Background(), entry); err != nil {
			logger.ProxyError("Recorder: failed to store traffic entry %s (%s %s): %v", entry.ID, entry.Method, entry.OriginalURL, err)
			trafficDropped.WithLabelValues("store_error").Inc()
			continue
		}
		trafficRecorded.WithLabelValues(entry.Mode).Inc()
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) enqueue(entry *models.TrafficEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		trafficDropped.WithLabelValues("closed").Inc()
		return
	}
	select {
	case r.queue <- entry:
	default:
		trafficDropped.WithLabelValues("queue_full").Inc()
		logger.ProxyError("Recorder: queue full, dropping %s %s", entry.Method, entry.OriginalURL)
	}
}

type compiledExclusion struct {
	rule models.RecordExclusionRule
	re   *regexp.Regexp
}

// SetExclusions replaces the active exclusion rules. Disabled rules and rules with
// invalid regular expressions are skipped.
func (r *Recorder) SetExclusions(rules []models.RecordExclusionRule) {
	if r == nil {
		return
	}
	compiled := make([]compiledExclusion, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsEnabled {
			continue
		}
		c := compiledExclusion{rule: rule}
		if rule.RuleType == "url_regex" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				logger.ProxyError("Invalid regex pattern in record exclusion rule ID %s: %s", rule.ID, rule.Pattern)
				continue
			}
			c.re = re
		}
		compiled = append(compiled, c)
	}
	r.exclusions.Store(&compiled)
	logger.ProxyInfo("Loaded %d record exclusion rules.", len(compiled))
}

func (r *Recorder) excluded(uri, rulePrefix string) bool {
	path, _, _ := strings.Cut(uri, "?")
	for _, c := range *r.exclusions.Load() {
		switch c.rule.RuleType {
		case "file_extension":
			ext := c.rule.Pattern
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			if strings.HasSuffix(strings.ToLower(path), strings.ToLower(ext)) {
				return true
			}
		case "url_regex":
			if c.re.MatchString(uri) {
				return true
			}
		case "prefix":
			if c.rule.Pattern == rulePrefix || strings.HasPrefix(uri, c.rule.Pattern) {
				return true
			}
		}
	}
	return false
}

// Begin opens an exchange for r. It returns nil when recording is off or the request is excluded.
func (r *Recorder) Begin(req *http.Request, mode, rulePrefix string, forward *url.URL) *Exchange {
	if r == nil {
		return nil
	}
	uri := req.URL.RequestURI()
	if r.excluded(uri, rulePrefix) {
		logger.ProxyDebug("REQ: %s %s - excluded from recording.", req.Method, uri)
		return nil
	}

	reqHeaders, _ := json.Marshal(req.Header)
	entry := &models.TrafficEntry{
		ID:             uuid.NewString(),
		Timestamp:      time.Now(),
		Mode:           mode,
		RulePrefix:     rulePrefix,
		Method:         req.Method,
		OriginalURL:    uri,
		ClientIP:       models.NullString(req.RemoteAddr),
		RequestHeaders: models.NullString(string(reqHeaders)),
	}
	if forward != nil {
		entry.ForwardURL = forward.String()
	}
	return &Exchange{
		rec:     r,
		entry:   entry,
		start:   entry.Timestamp,
		reqBody: &cappedBuffer{max: r.maxBody},
	}
}

// Exchange is one in-flight request/response pair being recorded. All methods accept a nil receiver.
type Exchange struct {
	rec      *Recorder
	entry    *models.TrafficEntry
	start    time.Time
	reqBody  *cappedBuffer
	respBody *cappedBuffer
	encoding string
	once     sync.Once
}

// ID is the request id assigned to this exchange.
func (e *Exchange) ID() string {
	if e == nil {
		return ""
	}
	return e.entry.ID
}

// TeeRequest returns a body that copies what the upstream reads into the exchange.
func (e *Exchange) TeeRequest(body io.ReadCloser) io.ReadCloser {
	if e == nil || body == nil || body == http.NoBody {
		return body
	}
	return &teeReadCloser{rc: body, w: e.reqBody}
}

// CaptureResponse records status and headers and wraps resp.Body so the exchange is
// finished when the body is closed. Protocol upgrades finish immediately.
func (e *Exchange) CaptureResponse(resp *http.Response) {
	if e == nil || resp == nil {
		return
	}
	headers, _ := json.Marshal(resp.Header)
	e.entry.StatusCode = resp.StatusCode
	e.entry.ResponseHeaders = models.NullString(string(headers))
	e.entry.ContentType = models.NullString(resp.Header.Get("Content-Type"))
	e.encoding = strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	if resp.StatusCode == http.StatusSwitchingProtocols || resp.Body == nil || resp.Body == http.NoBody {
		e.finish()
		return
	}
	e.respBody = &cappedBuffer{max: e.rec.maxBody}
	resp.Body = &captureBody{rc: resp.Body, buf: e.respBody, onClose: e.finish}
}

// Fail finishes the exchange with an error and no response.
func (e *Exchange) Fail(status int, err error) {
	if e == nil {
		return
	}
	e.entry.StatusCode = status
	if err != nil {
		e.entry.Error = models.NullString(err.Error())
	}
	e.finish()
}

func (e *Exchange) finish() {
	e.once.Do(func() {
		e.entry.DurationMs = time.Since(e.start).Milliseconds()
		e.entry.RequestBody = e.reqBody.Bytes()
		if e.respBody != nil {
			e.entry.BodySize = e.respBody.total
			e.entry.Truncated = e.respBody.truncated()
			e.entry.ResponseBody = decodeBody(e.encoding, e.respBody.Bytes(), e.entry.Truncated)
		}
		e.rec.enqueue(e.entry)
	})
}

// decodeBody undoes gzip or brotli content encoding. Truncated or undecodable bodies
// are stored as received.
func decodeBody(encoding string, body []byte, truncated bool) []byte {
	if len(body) == 0 || truncated {
		return body
	}
	var rd io.Reader
	switch encoding {
	case "br":
		rd = brotli.NewReader(bytes.NewReader(body))
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			logger.ProxyDebug("Recorder: gzip reader failed: %v", err)
			return body
		}
		defer gz.Close()
		rd = gz
	default:
		return body
	}
	decoded, err := io.ReadAll(rd)
	if err != nil {
		logger.ProxyDebug("Recorder: failed to decode %s body: %v", encoding, err)
		return body
	}
	return decoded
}

// cappedBuffer keeps the first max bytes written and counts the rest.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	max   int64
	total int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += int64(len(p))
	if room := b.max - int64(b.buf.Len()); room > 0 {
		if int64(len(p)) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *cappedBuffer) truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > int64(b.buf.Len())
}

type teeReadCloser struct {
	rc io.ReadCloser
	w  io.Writer
}

func (t *teeReadCloser) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 {
		t.w.Write(p[:n])
	}
	return n, err
}

func (t *teeReadCloser) Close() error { return t.rc.Close() }

type captureBody struct {
	rc      io.ReadCloser
	buf     *cappedBuffer
	onClose func()
}

func (c *captureBody) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.buf.Write(p[:n])
	}
	return n, err
}

func (c *captureBody) Close() error {
	err := c.rc.Close()
	c.onClose()
	return err
}
