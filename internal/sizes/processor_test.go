package sizes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/image-sizes/internal/blobstore"
	"github.com/fpang/image-sizes/internal/notify"
	"github.com/fpang/image-sizes/internal/resize"
)

const testBucketARN = "arn:aws:s3:::media-bucket"

// memStore is an in-memory blobstore.Store. Errors can be injected per
// operation and key.
type memStore struct {
	objects   map[string][]byte
	putOpts   map[string]blobstore.PutOptions
	failGet   map[string]error
	failPut   map[string]error
	failDel   error
	calls     int
	versionID string
	deleted   []string
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[string][]byte),
		putOpts: make(map[string]blobstore.PutOptions),
		failGet: make(map[string]error),
		failPut: make(map[string]error),
	}
}

func (m *memStore) Download(_ context.Context, bucket, key, versionID, localPath string) (int64, error) {
	m.calls++
	m.versionID = versionID
	if err := m.failGet[key]; err != nil {
		return 0, err
	}
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return 0, &blobstore.Error{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (m *memStore) Upload(_ context.Context, localPath, bucket, key string, opts blobstore.PutOptions) error {
	m.calls++
	if err := m.failPut[key]; err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	m.putOpts[key] = opts
	return nil
}

func (m *memStore) Delete(_ context.Context, bucket, key string) error {
	m.calls++
	m.deleted = append(m.deleted, key)
	if m.failDel != nil {
		return m.failDel
	}
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memStore) has(key string) bool {
	_, ok := m.objects["media-bucket/"+key]
	return ok
}

type recordingNotifier struct {
	events []notify.DerivativesCreated
	err    error
}

func (r *recordingNotifier) DerivativesCreated(_ context.Context, e notify.DerivativesCreated) error {
	r.events = append(r.events, e)
	return r.err
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 30, G: uint8(x % 256), B: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, store blobstore.Store, opts ...Option) (*Processor, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	return NewProcessor(store, cfg, opts...), cfg.ScratchDir
}

func task(key string) Task {
	return Task{
		JobID:                   "job-1",
		InvocationID:            "inv-1",
		InvocationSchemaVersion: "1.0",
		TaskID:                  "task-1",
		SourceKey:               key,
		BucketARN:               testBucketARN,
	}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("scratch dir not empty: %v", names)
	}
}

func TestProcessCreatesDerivatives(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/photos/cat.jpg"] = jpegBytes(t, 1400, 700)
	p, scratchDir := newTestProcessor(t, store)

	got := p.Process(context.Background(), task("photos/cat.jpg"))

	want := events.S3BatchJobResult{TaskID: "task-1", ResultCode: ResultSucceeded, ResultString: MsgCreated}
	if got != want {
		t.Fatalf("Process() = %+v, want %+v", got, want)
	}

	for key, wantW := range map[string]int{"photos/thumb_cat.jpg": 220, "photos/m3m_cat.jpg": 700} {
		data, ok := store.objects["media-bucket/"+key]
		if !ok {
			t.Errorf("%s was not uploaded", key)
			continue
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Errorf("%s is not an image: %v", key, err)
			continue
		}
		if format != "jpeg" || cfg.Width != wantW || cfg.Height != wantW/2 {
			t.Errorf("%s = %s %dx%d, want jpeg %dx%d", key, format, cfg.Width, cfg.Height, wantW, wantW/2)
		}
		opts := store.putOpts[key]
		if opts.ContentType != "image/jpeg" || opts.ACL != "public-read" {
			t.Errorf("%s uploaded with %+v, want image/jpeg public-read", key, opts)
		}
	}

	assertScratchEmpty(t, scratchDir)
}

func TestProcessSkipsIneligibleKeys(t *testing.T) {
	for _, key := range []string{"photos/thumb_cat.jpg", "photos/m3m_cat.jpg", "photos/bwt_cat.jpg", "photos/", "logo.SVG", "app.js"} {
		t.Run(key, func(t *testing.T) {
			store := newMemStore()
			p, scratchDir := newTestProcessor(t, store)

			got := p.Process(context.Background(), task(key))
			if got.ResultCode != ResultSucceeded || got.ResultString != MsgSkipped {
				t.Errorf("Process(%q) = %+v, want Succeeded/%q", key, got, MsgSkipped)
			}
			if store.calls != 0 {
				t.Errorf("store called %d times, want 0", store.calls)
			}
			assertScratchEmpty(t, scratchDir)
		})
	}
}

func TestProcessFailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		getErr     error
		wantCode   string
		wantString string
	}{
		{
			name:       "request timeout",
			getErr:     &blobstore.Error{Code: "RequestTimeout", Message: "socket timeout"},
			wantCode:   ResultTemporaryFailure,
			wantString: MsgRetryTimeout,
		},
		{
			name:       "access denied",
			getErr:     &blobstore.Error{Code: "AccessDenied", Message: "Access Denied"},
			wantCode:   ResultPermanentFailure,
			wantString: "AccessDenied: Access Denied",
		},
		{
			name:       "wrapped service error",
			getErr:     fmt.Errorf("outer: %w", &blobstore.Error{Code: "SlowDown", Message: "Please reduce your request rate."}),
			wantCode:   ResultPermanentFailure,
			wantString: "SlowDown: Please reduce your request rate.",
		},
		{
			name:       "local error",
			getErr:     errors.New("disk full"),
			wantCode:   ResultPermanentFailure,
			wantString: "Exception: download: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.failGet["photos/cat.jpg"] = tt.getErr
			p, scratchDir := newTestProcessor(t, store)

			got := p.Process(context.Background(), task("photos/cat.jpg"))
			if got.ResultCode != tt.wantCode || got.ResultString != tt.wantString {
				t.Errorf("Process() = %s/%q, want %s/%q", got.ResultCode, got.ResultString, tt.wantCode, tt.wantString)
			}
			if store.has("photos/thumb_cat.jpg") || store.has("photos/m3m_cat.jpg") {
				t.Error("derivatives uploaded despite download failure")
			}
			assertScratchEmpty(t, scratchDir)
		})
	}
}

func TestProcessMissingObject(t *testing.T) {
	store := newMemStore()
	p, _ := newTestProcessor(t, store)

	got := p.Process(context.Background(), task("photos/gone.jpg"))
	if got.ResultCode != ResultPermanentFailure || got.ResultString != "NoSuchKey: The specified key does not exist." {
		t.Errorf("Process() = %+v", got)
	}
}

func TestProcessUndecodableImage(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/docs/readme.txt"] = []byte("plain text, not pixels")
	p, scratchDir := newTestProcessor(t, store)

	got := p.Process(context.Background(), task("docs/readme.txt"))
	if got.ResultCode != ResultPermanentFailure {
		t.Errorf("ResultCode = %s, want %s", got.ResultCode, ResultPermanentFailure)
	}
	if !strings.HasPrefix(got.ResultString, "Exception: ") {
		t.Errorf("ResultString = %q, want Exception: prefix", got.ResultString)
	}
	assertScratchEmpty(t, scratchDir)
}

func TestProcessCleansUpAfterResizeFailure(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/photos/cat.jpg"] = []byte("bytes")

	failing := func(src, thumb, medium string, _ resize.Options) (resize.Result, error) {
		// Leave a half-written output behind.
		if err := os.WriteFile(medium, []byte("partial"), 0o644); err != nil {
			return resize.Result{}, err
		}
		return resize.Result{}, errors.New("out of memory")
	}
	p, scratchDir := newTestProcessor(t, store, WithResizer(failing))

	got := p.Process(context.Background(), task("photos/cat.jpg"))
	if got.ResultString != "Exception: resize: out of memory" {
		t.Errorf("ResultString = %q", got.ResultString)
	}
	assertScratchEmpty(t, scratchDir)
}

func TestProcessMediumUploadFailureKeepsThumbnail(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/photos/cat.jpg"] = jpegBytes(t, 800, 600)
	store.failPut["photos/m3m_cat.jpg"] = &blobstore.Error{Code: "InternalError", Message: "We encountered an internal error."}
	p, scratchDir := newTestProcessor(t, store)

	got := p.Process(context.Background(), task("photos/cat.jpg"))
	if got.ResultCode != ResultPermanentFailure || got.ResultString != "InternalError: We encountered an internal error." {
		t.Errorf("Process() = %+v", got)
	}
	if !store.has("photos/thumb_cat.jpg") {
		t.Error("thumbnail should remain without rollback")
	}
	if len(store.deleted) != 0 {
		t.Errorf("unexpected deletes: %v", store.deleted)
	}
	assertScratchEmpty(t, scratchDir)
}

func TestProcessMediumUploadFailureRollsBackThumbnail(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/photos/cat.jpg"] = jpegBytes(t, 800, 600)
	store.failPut["photos/m3m_cat.jpg"] = &blobstore.Error{Code: "RequestTimeout", Message: "timeout"}

	cfg := DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	cfg.RollbackPartial = true
	p := NewProcessor(store, cfg)

	got := p.Process(context.Background(), task("photos/cat.jpg"))
	if got.ResultCode != ResultTemporaryFailure {
		t.Errorf("ResultCode = %s, want %s", got.ResultCode, ResultTemporaryFailure)
	}
	if store.has("photos/thumb_cat.jpg") {
		t.Error("thumbnail should have been rolled back")
	}

	// A failed rollback does not change the reported outcome.
	store = newMemStore()
	store.objects["media-bucket/photos/cat.jpg"] = jpegBytes(t, 800, 600)
	store.failPut["photos/m3m_cat.jpg"] = &blobstore.Error{Code: "AccessDenied", Message: "denied"}
	store.failDel = errors.New("delete failed")
	p = NewProcessor(store, cfg)

	got = p.Process(context.Background(), task("photos/cat.jpg"))
	if got.ResultString != "AccessDenied: denied" {
		t.Errorf("ResultString = %q, want AccessDenied: denied", got.ResultString)
	}
}

func TestProcessDecodesKeyAndPinsVersion(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/summer trip/beach day.jpg"] = jpegBytes(t, 300, 300)
	p, _ := newTestProcessor(t, store)

	tk := task("summer+trip/beach%20day.jpg")
	tk.SourceVersionID = "3HL4kqtJlcpXroDTDmJ+rmSpXd3dIbrHY"
	got := p.Process(context.Background(), tk)
	if got.ResultCode != ResultSucceeded {
		t.Fatalf("Process() = %+v", got)
	}
	if store.versionID != tk.SourceVersionID {
		t.Errorf("download version = %q, want %q", store.versionID, tk.SourceVersionID)
	}
	if !store.has("summer trip/thumb_beach day.jpg") || !store.has("summer trip/m3m_beach day.jpg") {
		t.Errorf("derivatives not stored under decoded keys: %v", keysOf(store.objects))
	}
}

func TestProcessNotifies(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/cat.png"] = jpegBytes(t, 100, 100)
	n := &recordingNotifier{err: errors.New("bus unavailable")}
	p, _ := newTestProcessor(t, store, WithNotifier(n))

	got := p.Process(context.Background(), task("cat.png"))
	if got.ResultCode != ResultSucceeded {
		t.Fatalf("notifier failure changed the result: %+v", got)
	}
	if len(n.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.events))
	}
	e := n.events[0]
	if e.Bucket != "media-bucket" || e.ThumbKey != "thumb_cat.png" || e.MediumKey != "m3m_cat.png" || e.JobID != "job-1" {
		t.Errorf("event = %+v", e)
	}

	p.Process(context.Background(), task("missing.png"))
	if len(n.events) != 1 {
		t.Errorf("failed task was announced")
	}
}

func TestHandleInvocationEnvelope(t *testing.T) {
	store := newMemStore()
	store.objects["media-bucket/photos/cat.jpg"] = jpegBytes(t, 400, 200)
	p, _ := newTestProcessor(t, store)

	resp := p.HandleInvocation(context.Background(), events.S3BatchJobEvent{
		InvocationSchemaVersion: "1.0",
		InvocationID:            "YXNkbGZqYWRmaiBhc2RmdW9hZHNmZGpmaGFzbGtkaGZza2RmaAo",
		Job:                     events.S3BatchJob{ID: "job-42"},
		Tasks: []events.S3BatchJobTask{
			{TaskID: "t1", S3Key: "photos/cat.jpg", S3BucketARN: testBucketARN},
			{TaskID: "t2", S3Key: "photos/thumb_cat.jpg", S3BucketARN: testBucketARN},
			{TaskID: "t3", S3Key: "photos/dog.jpg", S3BucketARN: testBucketARN},
		},
	})

	if resp.InvocationSchemaVersion != "1.0" || resp.InvocationID != "YXNkbGZqYWRmaiBhc2RmdW9hZHNmZGpmaGFzbGtkaGZza2RmaAo" {
		t.Errorf("envelope not copied: %+v", resp)
	}
	if resp.TreatMissingKeysAs != ResultPermanentFailure {
		t.Errorf("TreatMissingKeysAs = %q, want %q", resp.TreatMissingKeysAs, ResultPermanentFailure)
	}

	want := []events.S3BatchJobResult{
		{TaskID: "t1", ResultCode: ResultSucceeded, ResultString: MsgCreated},
		{TaskID: "t2", ResultCode: ResultSucceeded, ResultString: MsgSkipped},
		{TaskID: "t3", ResultCode: ResultPermanentFailure, ResultString: "NoSuchKey: The specified key does not exist."},
	}
	if len(resp.Results) != len(want) {
		t.Fatalf("results = %d, want %d", len(resp.Results), len(want))
	}
	for i := range want {
		if resp.Results[i] != want[i] {
			t.Errorf("Results[%d] = %+v, want %+v", i, resp.Results[i], want[i])
		}
	}
}

func TestHandleInvocationNoTasks(t *testing.T) {
	p, _ := newTestProcessor(t, newMemStore())
	resp := p.HandleInvocation(context.Background(), events.S3BatchJobEvent{InvocationSchemaVersion: "1.0", InvocationID: "inv"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("Results = %#v, want empty non-nil slice", resp.Results)
	}
}

func TestScratchNamesAreUnique(t *testing.T) {
	a := newScratch("/tmp", "id-a", "photos/cat.JPG")
	b := newScratch("/tmp", "id-b", "photos/cat.JPG")
	if a.original == b.original || a.thumb == b.thumb || a.medium == b.medium {
		t.Errorf("scratch paths collide: %+v %+v", a, b)
	}
	if filepath.Ext(a.thumb) != ".jpg" {
		t.Errorf("thumb ext = %q, want .jpg", filepath.Ext(a.thumb))
	}
	if len(map[string]bool{a.original: true, a.thumb: true, a.medium: true}) != 3 {
		t.Errorf("scratch paths within one task collide: %+v", a)
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
