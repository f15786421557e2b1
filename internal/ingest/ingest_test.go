package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zoneguard/internal/model"
)

func receive(t *testing.T, ch <-chan model.DetectionBatch) model.DetectionBatch {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("no batch received")
	}
	return model.DetectionBatch{}
}

func TestRESTFeedPath(t *testing.T) {
	out := make(chan model.DetectionBatch, 4)
	srv := httptest.NewServer(NewRESTServer(out, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/feeds/2/detections", "application/json",
		bytes.NewBufferString(`{"faces":[{"bbox":[0,0,1,1],"name":"Alice","score":0.9}],"doors":[[1,1,2,2]]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	b := receive(t, out)
	require.Equal(t, 2, b.FeedID)
	require.Len(t, b.Faces, 1)
	require.Len(t, b.Doors, 1)
}

func TestRESTRejectsBadInput(t *testing.T) {
	out := make(chan model.DetectionBatch, 1)
	srv := httptest.NewServer(NewRESTServer(out, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/detections", "application/json", bytes.NewBufferString(`{"faces":[]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "feed id required")

	resp, err = http.Get(srv.URL + "/detections")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/feeds/x/detections", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRESTFullChannel(t *testing.T) {
	out := make(chan model.DetectionBatch)
	srv := httptest.NewServer(NewRESTServer(out, nil).Handler())
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/detections", "application/json", bytes.NewBufferString(`{"feed_id":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTCPStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.DetectionBatch, 4)
	ServeTCPStream(ctx, ln, out, nil)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprint(conn, "{\"feed_id\":1,\"seq\":1}\nnot json\n{\"feed_id\":1,\"seq\":2}\n")
	require.NoError(t, err)

	require.EqualValues(t, 1, receive(t, out).Seq)
	require.EqualValues(t, 2, receive(t, out).Seq)
}

func TestReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.ndjson")
	data := "# recorded\n{\"feed_id\":0,\"seq\":1}\n\n{\"feed_id\":0,\"seq\":2}\n{\"feed_id\":2,\"seq\":1}"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	out := make(chan model.DetectionBatch, 8)
	ReplayFile(context.Background(), path, false, out, nil)
	close(out)

	var got []model.DetectionBatch
	for b := range out {
		got = append(got, b)
	}
	require.Len(t, got, 3)
	require.EqualValues(t, 2, got[1].Seq)
	require.Equal(t, 2, got[2].FeedID)
}

func TestHTTPDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("feed_id") != "3" {
			http.Error(w, "wrong feed", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"faces":[{"bbox":[1,2,3,4],"name":"Bob","role":"Worker","score":0.8}]}`))
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(srv.URL+"/detect", nil)
	require.NoError(t, err)
	b, err := d.Detect(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, b.FeedID)
	require.Equal(t, "Bob", b.Faces[0].Name)

	_, err = d.Detect(context.Background(), 4)
	require.Error(t, err)

	_, err = NewHTTPDetector("not a url", nil)
	require.Error(t, err)
}

func TestHTTPDetectorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	d, err := NewHTTPDetector(srv.URL, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.Detect(ctx, 0)
	require.Error(t, err)
}
