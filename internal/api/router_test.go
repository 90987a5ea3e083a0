package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/racketdrop/internal/analysis/mock"
	"github.com/dharsanguruparan/racketdrop/internal/api"
	"github.com/dharsanguruparan/racketdrop/internal/api/handler"
	"github.com/dharsanguruparan/racketdrop/internal/intake"
	"github.com/dharsanguruparan/racketdrop/internal/model"
	"github.com/dharsanguruparan/racketdrop/internal/queue"
	"github.com/dharsanguruparan/racketdrop/internal/repository"
	"github.com/dharsanguruparan/racketdrop/internal/s3storage"
	"github.com/dharsanguruparan/racketdrop/internal/status"
	"github.com/dharsanguruparan/racketdrop/internal/worker"
)

// --- Mocks ---

type memoryMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemoryMedia() *memoryMedia {
	return &memoryMedia{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryMedia) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryMedia) List(_ context.Context, prefix string) ([]s3storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []s3storage.Object
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, s3storage.Object{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryMedia) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

type failingProducer struct{}

func (failingProducer) Enqueue(context.Context, queue.Job) error { return errors.New("redis down") }

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

// --- Harness ---

type harness struct {
	repo   *repository.Memory
	queue  *queue.Memory
	media  *memoryMedia
	router http.Handler
}

func newHarness(t *testing.T, producer queue.Producer) *harness {
	t.Helper()
	h := &harness{
		repo:  repository.NewMemory(),
		queue: queue.NewMemory(4),
		media: newMemoryMedia(),
	}
	if producer == nil {
		producer = h.queue
	}
	in := intake.NewService(h.repo, producer, intake.WithMediaChecker(h.media))
	st := status.NewService(h.repo)
	limits := handler.UploadLimits{MaxFileSize: 1 << 20, AllowedExtensions: []string{".mp4", ".mov"}}
	h.router = api.NewRouter(api.Dependencies{
		Items:  handler.NewItemHandler(in, st, h.media, limits),
		Media:  handler.NewMediaHandler(h.media),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{"database": okPinger{}}),
	})
	return h
}

func (h *harness) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, r)
	return w
}

// runWorker closes the queue and drains it through p.
func (h *harness) runWorker(t *testing.T, p *worker.Processor) {
	t.Helper()
	h.queue.Close()
	require.NoError(t, h.queue.Consume(context.Background(), p.Handle))
}

// mp4Bytes is a minimal ftyp box the content sniffer recognises as video/mp4.
func mp4Bytes() []byte {
	return append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypmp42\x00\x00\x00\x00mp42isom")...)
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/items", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func strokeFields() map[string]string {
	return map[string]string{
		"category":          "tennis",
		"subClassification": "forehand",
		"orientation":       "right",
		"viewAngle":         "side",
	}
}

func jsonRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	r := httptest.NewRequest(method, path, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	return r
}

type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env dataEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// --- Upload ---

func TestUpload_AcceptsVideoAndQueues(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(multipartUpload(t, "rally.mp4", mp4Bytes(), strokeFields()))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var receipt intake.Receipt
	decodeData(t, w, &receipt)
	assert.Equal(t, model.StateProcessing, receipt.State)
	assert.Equal(t, 1, h.queue.Pending())

	item, err := h.repo.GetItem(context.Background(), receipt.ItemID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(item.MediaRef, s3storage.UploadPrefix))
	assert.True(t, strings.HasSuffix(item.MediaRef, "/rally.mp4"))
	assert.Equal(t, model.ViewSide, item.ViewAngle)
	assert.Equal(t, mp4Bytes(), h.media.objects[item.MediaRef])
	assert.Equal(t, "video/mp4", h.media.types[item.MediaRef])
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		status   int
		code     string
	}{
		{"wrong extension", "notes.txt", mp4Bytes(), strokeFields(), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA"},
		{"non video content", "fake.mp4", []byte("just some text pretending"), strokeFields(), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA"},
		{"missing file", "", nil, strokeFields(), http.StatusBadRequest, "MISSING_FILE"},
		{"empty file", "empty.mov", nil, strokeFields(), http.StatusBadRequest, "EMPTY_FILE"},
		{"too large", "big.mp4", append(mp4Bytes(), make([]byte, 1<<20)...), strokeFields(), http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
		{"bad stroke", "rally.mp4", mp4Bytes(), map[string]string{"category": "tennis", "subClassification": "lob", "orientation": "right"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			w := h.do(multipartUpload(t, tt.filename, tt.content, tt.fields))

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeError(t, w).Error.Code)
			assert.Zero(t, h.queue.Pending())
			assert.Empty(t, h.media.objects, "rejected uploads are not stored")
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(jsonRequest(t, http.MethodPost, "/api/v1/items", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_MULTIPART", decodeError(t, w).Error.Code)
}

func TestUpload_StorageFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.media.putErr = errors.New("minio down")

	w := h.do(multipartUpload(t, "rally.mp4", mp4Bytes(), strokeFields()))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Zero(t, h.queue.Pending())
}

// --- Existing media ---

func TestSubmitExisting(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.media.Put(context.Background(), "uploads/a/serve.mov", bytes.NewReader([]byte("x")), 1, "video/quicktime"))

	w := h.do(jsonRequest(t, http.MethodPost, "/api/v1/items/existing", map[string]string{
		"mediaReference":    "uploads/a/serve.mov",
		"category":          "padel",
		"subClassification": "backhand",
		"orientation":       "left",
	}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var receipt intake.Receipt
	decodeData(t, w, &receipt)
	assert.Equal(t, model.StateProcessing, receipt.State)
}

func TestSubmitExisting_Errors(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(jsonRequest(t, http.MethodPost, "/api/v1/items/existing", map[string]string{
		"mediaReference":    "uploads/missing.mp4",
		"category":          "tennis",
		"subClassification": "forehand",
		"orientation":       "right",
	}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "MEDIA_NOT_FOUND", decodeError(t, w).Error.Code)

	w = h.do(jsonRequest(t, http.MethodPost, "/api/v1/items/existing", map[string]string{
		"mediaReference": "uploads/missing.mp4",
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Details, "category")
	assert.Contains(t, env.Error.Details, "orientation")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/items/existing", strings.NewReader("{"))
	w = h.do(r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, w).Error.Code)
	assert.Zero(t, h.queue.Pending())
}

func TestSubmitExisting_EnqueueFailureReportsItem(t *testing.T) {
	h := newHarness(t, failingProducer{})
	require.NoError(t, h.media.Put(context.Background(), "uploads/a.mp4", bytes.NewReader([]byte("x")), 1, "video/mp4"))

	w := h.do(jsonRequest(t, http.MethodPost, "/api/v1/items/existing", map[string]string{
		"mediaReference":    "uploads/a.mp4",
		"category":          "tennis",
		"subClassification": "forehand",
		"orientation":       "right",
	}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	env := decodeError(t, w)
	assert.Equal(t, "QUEUE_UNAVAILABLE", env.Error.Code)

	id, _ := env.Error.Details["itemId"].(string)
	item, err := h.repo.GetItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitted, item.State)
}

// --- Status ---

func TestGetItem_Lifecycle(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(multipartUpload(t, "rally.mp4", mp4Bytes(), strokeFields()))
	require.Equal(t, http.StatusAccepted, w.Code)
	var receipt intake.Receipt
	decodeData(t, w, &receipt)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/items/"+receipt.ItemID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"itemId":"`+receipt.ItemID+`","state":"processing","result":null}}`, w.Body.String())

	h.runWorker(t, worker.NewProcessor(h.repo, mock.NewFallbackClient("heuristic", "model unavailable")))

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/items/"+receipt.ItemID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		ItemID string          `json:"itemId"`
		State  model.ItemState `json:"state"`
		Result *model.Result   `json:"result"`
	}
	decodeData(t, w, &view)
	assert.Equal(t, model.StateCompleted, view.State)
	require.NotNil(t, view.Result)
	assert.Equal(t, "heuristic", view.Result.AttributedTo)
	require.NotNil(t, view.Result.FallbackReason)
	assert.Equal(t, "model unavailable", *view.Result.FallbackReason)
}

func TestGetItem_FailedShowsNoDetail(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(multipartUpload(t, "rally.mp4", mp4Bytes(), strokeFields()))
	var receipt intake.Receipt
	decodeData(t, w, &receipt)

	h.runWorker(t, worker.NewProcessor(h.repo, mock.NewFailingClient(errors.New("engine exploded: secret stack"))))

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/items/"+receipt.ItemID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"itemId":"`+receipt.ItemID+`","state":"failed","result":null}}`, w.Body.String())
}

func TestGetItem_NotFound(t *testing.T) {
	h := newHarness(t, nil)

	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/items/"+id, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Equal(t, "NOT_FOUND", decodeError(t, w).Error.Code)
	}
}

// --- Media listing & health ---

func TestListMedia(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/media", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())

	require.NoError(t, h.media.Put(context.Background(), "uploads/a/x.mp4", bytes.NewReader([]byte("abc")), 3, "video/mp4"))
	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/media", nil))
	var objects []s3storage.Object
	decodeData(t, w, &objects)
	require.Len(t, objects, 1)
	assert.Equal(t, "uploads/a/x.mp4", objects[0].Key)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"status":"ok","checks":{"database":"ok"}}}`, w.Body.String())

	degraded := api.NewRouter(api.Dependencies{
		Items:  handler.NewItemHandler(nil, nil, nil, handler.UploadLimits{}),
		Media:  handler.NewMediaHandler(nil),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{"database": okPinger{}, "redis": downPinger{}}),
	})
	w = httptest.NewRecorder()
	degraded.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"data":{"status":"degraded","checks":{"database":"ok","redis":"unavailable"}}}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Error.Code)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv := api.NewServer("127.0.0.1:0", http.NotFoundHandler(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
