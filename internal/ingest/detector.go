package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"zoneguard/internal/model"
	"zoneguard/internal/normalize"
)

// HTTPDetector polls an external detector service for the current frame of a feed.
// The service answers GET <url>?feed_id=N with one batch.
type HTTPDetector struct {
	client *http.Client
	url    string
}

func NewHTTPDetector(rawURL string, client *http.Client) (*HTTPDetector, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid detector url %q", rawURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDetector{client: client, url: rawURL}, nil
}

func (d *HTTPDetector) Detect(ctx context.Context, feedID int) (model.DetectionBatch, error) {
	u, _ := url.Parse(d.url)
	q := u.Query()
	q.Set("feed_id", strconv.Itoa(feedID))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.DetectionBatch{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return model.DetectionBatch{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.DetectionBatch{}, fmt.Errorf("detector returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return model.DetectionBatch{}, err
	}
	b, err := normalize.DecodeBatch(body, normalize.Defaults{FeedID: feedID, Now: time.Now().UTC()})
	if err != nil {
		return model.DetectionBatch{}, fmt.Errorf("decode detector response: %w", err)
	}
	if b.FeedID != feedID {
		return model.DetectionBatch{}, errors.New("detector answered for another feed")
	}
	return b, nil
}
