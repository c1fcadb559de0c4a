package musicapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEncode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/encode" {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req["text"] != "hi" {
			t.Errorf("text = %q", req["text"])
		}
		_, _ = io.WriteString(w, `{
			"success": true,
			"ipa": "haɪ",
			"note_count": 2,
			"midi_file": "outputs/abc/hi.mid",
			"notes": [
				{"pitch": 60, "duration": 0.5, "velocity": 90, "time": 0, "phoneme": "h"},
				{"pitch": 67, "duration": 0.5, "velocity": 100, "time": 0.5, "phoneme": "aɪ"}
			],
			"phonemes": ["h", "aɪ"],
			"message": "ok"
		}`)
	}))
	defer srv.Close()

	res, err := New(srv.URL, time.Second).Encode(context.Background(), "hi")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !res.Success || res.NoteCount != 2 || len(res.Notes) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Notes[1].Phoneme != "aɪ" || res.Notes[1].Time != 0.5 {
		t.Fatalf("unexpected note %+v", res.Notes[1])
	}
	if res.DownloadName() != "hi.mid" {
		t.Fatalf("download name = %q", res.DownloadName())
	}
}

func TestEncodeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"detail": "Encoding failed: boom"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Encode(context.Background(), "hi")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want *StatusError", err)
	}
	if se.Code != http.StatusInternalServerError || se.Op != "encode" || se.Detail != "Encoding failed: boom" {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestDecodeUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decode" {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "song.mid" || string(data) != "MThd" {
			t.Errorf("upload = %q %q", hdr.Filename, data)
		}
		_, _ = io.WriteString(w, `{"success": true, "decoded_text": "hi", "message": "ok"}`)
	}))
	defer srv.Close()

	text, err := New(srv.URL, time.Second).Decode(context.Background(), "/tmp/song.mid", strings.NewReader("MThd"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "hi" {
		t.Fatalf("text = %q, want hi", text)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/download/outputs/abc/hi.mid" {
			_, _ = w.Write([]byte("MThd\x00\x00\x00\x06"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"detail": "Access denied"}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	data, err := c.Download(context.Background(), "outputs/abc/hi.mid")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) != 8 {
		t.Fatalf("len = %d, want 8", len(data))
	}

	_, err = c.Download(context.Background(), "etc/passwd")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 StatusError", err)
	}
}

func TestDownloadURLEscapesSegments(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.RawQuery != "" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte("MThd"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if got, want := c.DownloadURL("/out/a b#1?x%.mid"), srv.URL+"/download/out/a%20b%231%3Fx%25.mid"; got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
	if _, err := c.Download(context.Background(), "out/a b#1?x%.mid"); err != nil {
		t.Fatalf("download: %v", err)
	}
	if gotPath != "/download/out/a b#1?x%.mid" {
		t.Fatalf("server saw path %q", gotPath)
	}
}

func TestDownloadRejectsOversizedFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, MaxDownloadSize+1))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	if _, err := c.Download(context.Background(), "big.mid"); !errors.Is(err, ErrDownloadTooLarge) {
		t.Fatalf("err = %v, want ErrDownloadTooLarge", err)
	}
}

func TestTransportFailureIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Encode(context.Background(), "hi")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Fatalf("connection failure should not be a StatusError")
	}
}
