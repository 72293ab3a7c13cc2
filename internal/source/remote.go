package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"catalogsync/internal/adapter"
)

// maxFeedBytes caps a remote feed download.
const maxFeedBytes = 64 << 20

// ErrFeedTooLarge is returned when a remote feed exceeds the download cap.
// A truncated feed is never parsed, since its missing units would be
// soft-deleted.
var ErrFeedTooLarge = errors.New("feed exceeds size limit")

var acceptedContentTypes = map[string]struct{}{
	"text/csv":                 {},
	"application/octet-stream": {},
}

// Remote is a CSV feed served over HTTP(S).
type Remote struct {
	URL     string
	Retries int

	client     *http.Client
	logger     *logrus.Logger
	retryDelay time.Duration
	maxBytes   int64
}

// NewRemote validates rawURL and returns a fetcher for it.
func NewRemote(rawURL string, timeout time.Duration, retries int, logger *logrus.Logger) (*Remote, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid feed URL %q", rawURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		URL:        rawURL,
		Retries:    max(retries, 0),
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		retryDelay: 2 * time.Second,
		maxBytes:   maxFeedBytes,
	}, nil
}

func (r *Remote) String() string { return "@" + r.URL }

// Load downloads and parses the feed. Format mismatches are retried since
// they are often transient redirects to a confirmation page; anything else
// fails at once.
func (r *Remote) Load(ctx context.Context) ([]adapter.RawBuilding, error) {
	var err error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			r.logger.WithFields(logrus.Fields{
				"url":     r.URL,
				"attempt": attempt,
			}).Warn("Retrying feed download after format mismatch")

			timer := time.NewTimer(r.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		var data []byte
		data, err = r.fetch(ctx)
		if err == nil {
			return ParseCSV(data)
		}
		if !errors.Is(err, ErrFormatMismatch) {
			return nil, err
		}
	}
	return nil, err
}

func (r *Remote) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, application/octet-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed request returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &FormatError{Source: r.URL, ContentType: contentType, Reason: "unparseable content type"}
	}
	if _, ok := acceptedContentTypes[mediaType]; !ok {
		return nil, &FormatError{Source: r.URL, ContentType: contentType, Reason: "unexpected content type"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrFeedTooLarge, r.URL, r.maxBytes)
	}
	if looksLikeHTML(data) {
		return nil, &FormatError{Source: r.URL, ContentType: contentType, Reason: "body looks like HTML"}
	}

	r.logger.WithFields(logrus.Fields{
		"url":   r.URL,
		"bytes": len(data),
	}).Info("Downloaded feed")
	return data, nil
}
