package result

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/tracing"
)

const resultTestPrefix = "result:result_test"

func testMeta() map[string]any {
	return map[string]any{"apiVersion": "1.2.3", "serial": "2019061301"}
}

func TestResult_ToObjectPlain(t *testing.T) {
	r := New(Options{})
	r.Set("stream", map[string]any{"id": "s_0"})

	obj, err := r.ToObject(context.Background())
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", resultTestPrefix, err)
	}
	if _, ok := obj["stream"]; !ok {
		t.Errorf("%s - expected stream field, got %v", resultTestPrefix, obj)
	}
	if _, ok := obj["meta"]; ok {
		t.Errorf("%s - ToObject should not add meta", resultTestPrefix)
	}
}

func TestResult_ToObjectDrainsStreamsInOrder(t *testing.T) {
	r := New(Options{})
	r.AddStream("first", NewSliceStream(1, 2))
	r.AddStream("second", NewSliceStream(3))

	obj, err := r.ToObject(context.Background())
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", resultTestPrefix, err)
	}
	first, _ := obj["first"].([]any)
	second, _ := obj["second"].([]any)
	if len(first) != 2 || first[0] != 1 || first[1] != 2 {
		t.Errorf("%s - first = %v", resultTestPrefix, obj["first"])
	}
	if len(second) != 1 || second[0] != 3 {
		t.Errorf("%s - second = %v", resultTestPrefix, obj["second"])
	}
}

func TestResult_ToObjectEmptyStream(t *testing.T) {
	r := New(Options{})
	r.AddStream("empty", NewSliceStream())

	obj, err := r.ToObject(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	list, ok := obj["empty"].([]any)
	if !ok || list == nil || len(list) != 0 {
		t.Errorf("%s - expected empty non-nil list, got %#v", resultTestPrefix, obj["empty"])
	}
}

func TestResult_ToObjectOverflow(t *testing.T) {
	next := &closeCounter{SliceStream: NewSliceStream("x")}
	r := New(Options{ArrayLimit: 2})
	r.AddStream("big", NewSliceStream(1, 2, 3))
	r.AddStream("next", next)

	obj, err := r.ToObject(context.Background())
	if obj != nil {
		t.Errorf("%s - expected no partial data, got %v", resultTestPrefix, obj)
	}
	apiErr, ok := apierrors.AsAPIError(err)
	if !ok || apiErr.ID != apierrors.IDTooManyResults {
		t.Fatalf("%s - expected too-many-results, got %v", resultTestPrefix, err)
	}
	if next.closed == 0 {
		t.Errorf("%s - remaining stream should be closed", resultTestPrefix)
	}
}

func TestResult_ToObjectAtLimit(t *testing.T) {
	r := New(Options{ArrayLimit: 3})
	r.AddStream("exact", NewSliceStream(1, 2, 3))
	obj, err := r.ToObject(context.Background())
	if err != nil {
		t.Fatalf("%s - exactly limit items should pass: %v", resultTestPrefix, err)
	}
	if len(obj["exact"].([]any)) != 3 {
		t.Errorf("%s - got %v", resultTestPrefix, obj["exact"])
	}
}

func TestResult_ToObjectStreamError(t *testing.T) {
	boom := errors.New("cursor broken")
	r := New(Options{})
	r.AddStream("bad", StreamFunc(func(context.Context) (any, error) { return nil, boom }))

	if _, err := r.ToObject(context.Background()); !errors.Is(err, boom) {
		t.Errorf("%s - expected wrapped stream error, got %v", resultTestPrefix, err)
	}
}

func TestResult_WriteSingle(t *testing.T) {
	r := New(Options{Meta: testMeta})
	r.Set("stream", map[string]any{"id": "s_9"})

	rec := httptest.NewRecorder()
	if err := r.WriteToHTTPResponse(context.Background(), rec, http.StatusCreated); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("%s - status = %d, want 201", resultTestPrefix, rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s - invalid JSON: %v", resultTestPrefix, err)
	}
	meta, ok := body["meta"].(map[string]any)
	if !ok || meta["apiVersion"] != "1.2.3" {
		t.Errorf("%s - meta = %v", resultTestPrefix, body["meta"])
	}
	if _, ok := body["stream"]; !ok {
		t.Errorf("%s - missing stream field", resultTestPrefix)
	}
}

func TestResult_WriteStreams(t *testing.T) {
	r := New(Options{Meta: testMeta})
	r.AddStream("first", NewSliceStream(map[string]any{"id": "a"}, map[string]any{"id": "b"}))
	r.AddStream("second", NewSliceStream())

	rec := httptest.NewRecorder()
	if err := r.WriteToHTTPResponse(context.Background(), rec, http.StatusOK); err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("Transfer-Encoding") != "chunked" {
		t.Errorf("%s - expected chunked transfer encoding", resultTestPrefix)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("%s - content type = %q", resultTestPrefix, rec.Header().Get("Content-Type"))
	}

	want := `{"first":[{"id":"a"},{"id":"b"}],"second":[],"meta":{"apiVersion":"1.2.3","serial":"2019061301"}}`
	if rec.Body.String() != want {
		t.Errorf("%s - body\n got %s\nwant %s", resultTestPrefix, rec.Body.String(), want)
	}
}

func TestResult_WriteStreamsLargeIsValidJSON(t *testing.T) {
	items := make([]any, 5000)
	for i := range items {
		items[i] = map[string]any{"id": i, "content": "some padding to push past the flush threshold"}
	}
	r := New(Options{})
	r.AddStream("events", NewSliceStream(items...))

	rec := httptest.NewRecorder()
	if err := r.WriteToHTTPResponse(context.Background(), rec, http.StatusOK); err != nil {
		t.Fatal(err)
	}
	var body struct {
		Events []map[string]any `json:"events"`
		Meta   map[string]any   `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s - invalid JSON: %v", resultTestPrefix, err)
	}
	if len(body.Events) != len(items) {
		t.Errorf("%s - got %d events, want %d", resultTestPrefix, len(body.Events), len(items))
	}
	if body.Meta == nil {
		t.Errorf("%s - expected empty meta object", resultTestPrefix)
	}
}

func TestResult_WriteStreamsError(t *testing.T) {
	later := &closeCounter{SliceStream: NewSliceStream(1)}
	r := New(Options{})
	r.AddStream("bad", StreamFunc(func(context.Context) (any, error) { return nil, io.ErrUnexpectedEOF }))
	r.AddStream("later", later)

	rec := httptest.NewRecorder()
	err := r.WriteToHTTPResponse(context.Background(), rec, http.StatusOK)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("%s - expected stream error, got %v", resultTestPrefix, err)
	}
	if later.closed == 0 {
		t.Errorf("%s - pending stream should be closed", resultTestPrefix)
	}
}

func TestResult_ConcatArrayStream(t *testing.T) {
	r := New(Options{})
	if err := r.AddToConcatArrayStream("events", NewSliceStream("e1", "e2")); err != nil {
		t.Fatal(err)
	}
	if err := r.AddToConcatArrayStream("events", NewSliceStream("e3")); err != nil {
		t.Fatal(err)
	}
	r.CloseConcatArrayStream("events")

	if err := r.AddToConcatArrayStream("events", NewSliceStream("late")); !errors.Is(err, ErrConcatSealed) {
		t.Errorf("%s - expected ErrConcatSealed, got %v", resultTestPrefix, err)
	}
	if !r.IsStreamResult() {
		t.Fatalf("%s - expected stream result", resultTestPrefix)
	}

	obj, err := r.ToObject(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := obj["events"].([]any)
	if len(got) != 3 || got[0] != "e1" || got[2] != "e3" {
		t.Errorf("%s - events = %v", resultTestPrefix, got)
	}
}

func TestResult_CloseConcatArrayStreamUnknown(t *testing.T) {
	r := New(Options{})
	r.CloseConcatArrayStream("nothing")
	if r.IsStreamResult() {
		t.Errorf("%s - closing an unknown concat stream should not make a stream result", resultTestPrefix)
	}
}

func TestResult_OnEndFiresOnce(t *testing.T) {
	r := New(Options{})
	calls := 0
	r.OnEnd(func() { calls++ })
	r.OnEnd(func() { calls += 10 })
	r.AddStream("a", NewSliceStream(1))

	if _, err := r.ToObject(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 11 {
		t.Errorf("%s - calls = %d, want 11", resultTestPrefix, calls)
	}
}

func TestResult_DoubleFinalizePanics(t *testing.T) {
	r := New(Options{})
	if _, err := r.ToObject(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("%s - expected panic on second finalisation", resultTestPrefix)
		}
	}()
	_ = r.WriteToHTTPResponse(context.Background(), httptest.NewRecorder(), http.StatusOK)
}

func TestResult_WriteStreamsOnPlainResultPanics(t *testing.T) {
	r := New(Options{})
	defer func() {
		if recover() == nil {
			t.Errorf("%s - expected panic", resultTestPrefix)
		}
	}()
	_ = r.writeStreams(context.Background(), httptest.NewRecorder(), http.StatusOK)
}

func TestResult_StreamSpan(t *testing.T) {
	rec := &tracing.Recorder{}
	r := New(Options{Tracing: rec})
	r.AddStream("a", NewSliceStream(1))
	r.AddStream("b", NewSliceStream(2))

	if open := rec.Open(); len(open) != 1 || open[0] != streamSpanName {
		t.Fatalf("%s - open spans = %v", resultTestPrefix, open)
	}
	if err := r.WriteToHTTPResponse(context.Background(), httptest.NewRecorder(), http.StatusOK); err != nil {
		t.Fatal(err)
	}
	if open := rec.Open(); len(open) != 0 {
		t.Errorf("%s - spans left open: %v", resultTestPrefix, open)
	}
}

func TestResult_Abort(t *testing.T) {
	rec := &tracing.Recorder{}
	pending := &closeCounter{SliceStream: NewSliceStream(1)}
	queued := &closeCounter{SliceStream: NewSliceStream(2)}

	r := New(Options{Tracing: rec})
	r.AddStream("pending", pending)
	if err := r.AddToConcatArrayStream("events", queued); err != nil {
		t.Fatal(err)
	}
	r.Abort()

	if pending.closed == 0 || queued.closed == 0 {
		t.Errorf("%s - Abort should close every stream (pending=%d queued=%d)", resultTestPrefix, pending.closed, queued.closed)
	}
	if open := rec.Open(); len(open) != 0 {
		t.Errorf("%s - spans left open: %v", resultTestPrefix, open)
	}
}
