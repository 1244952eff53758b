package transcript_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"recap/internal/meetings"
	"recap/internal/services"
	"recap/internal/transcript"
)

func TestParseJSONL(t *testing.T) {
	data := []byte(`{"speaker_id":"u1","text":"Hello everyone","start_ts":0,"stop_ts":1500}

{"speaker_id":"a1","text":"Hi, I am the assistant","start_ts":1500,"stop_ts":4000}
`)
	items, err := transcript.ParseJSONL(data)
	if err != nil {
		t.Fatalf("ParseJSONL failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].SpeakerID != "u1" || items[1].StopTS != 4000 {
		t.Fatalf("unexpected items: %#v", items)
	}
}

func TestParseJSONLMalformedIsValidation(t *testing.T) {
	_, err := transcript.ParseJSONL([]byte("{\"speaker_id\":\"u1\"}\nnot json\n"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseJSONLEmptyDocument(t *testing.T) {
	_, err := transcript.ParseJSONL([]byte("\n\n"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty document, got %v", err)
	}
}

func TestSpeakerIDsDistinctInOrder(t *testing.T) {
	items := []transcript.Item{
		{SpeakerID: "u1"}, {SpeakerID: "a1"}, {SpeakerID: "u1"}, {SpeakerID: "x9"},
	}
	ids := transcript.SpeakerIDs(items)
	want := []string{"u1", "a1", "x9"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestResolveAssignsNamesPreservingOrder(t *testing.T) {
	items := []transcript.Item{
		{SpeakerID: "U1", Text: "first"},
		{SpeakerID: "A1", Text: "second"},
		{SpeakerID: "X9", Text: "third"},
	}
	users := []meetings.User{{ID: "U1", Name: "Alice"}}
	agents := []meetings.Agent{{ID: "A1", Name: "Bot"}}

	resolved := transcript.Resolve(items, users, agents)
	wantNames := []string{"Alice", "Bot", "Unknown"}
	for i, want := range wantNames {
		if resolved[i].SpeakerName != want {
			t.Fatalf("item %d: expected %q, got %q", i, want, resolved[i].SpeakerName)
		}
	}
	if resolved[2].Text != "third" {
		t.Fatal("expected original order preserved")
	}
}

func TestFetchReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	fetcher := transcript.NewFetcherWithClient(server.Client())
	body, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFetchNonSuccessIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := transcript.NewFetcherWithClient(server.Client())
	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchEmptyURLIsValidation(t *testing.T) {
	fetcher := transcript.NewFetcher(0)
	_, err := fetcher.Fetch(context.Background(), "  ")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
