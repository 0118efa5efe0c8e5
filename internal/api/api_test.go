package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "github.com/domospb/whoisalice/internal/api"
	"github.com/domospb/whoisalice/internal/core"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/messaging"
	"github.com/domospb/whoisalice/internal/storage"
	"github.com/domospb/whoisalice/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testModelName = "Whisper STT"

func createDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.GetMigrator(db).Migrate())

	_, err = database.UpsertModel(context.Background(), db, database.MLModel{
		Name:              testModelName,
		Description:       "Speech to text",
		CostPerPrediction: decimal.RequireFromString("0.50"),
		Version:           "1.0",
		IsActive:          true,
	})
	require.NoError(t, err)

	return db
}

type testServer struct {
	db     *gorm.DB
	store  *storage.LocalObjectStore
	queue  *messaging.InMemoryQueue
	router chi.Router
}

func newTestServer(t *testing.T) *testServer {
	db := createDB(t)
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	service := backend.NewBackendService(db, core.NewSubmitter(db, queue, store), store, 1024)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return &testServer{db: db, store: store, queue: queue, router: router}
}

func (s *testServer) createUser(t *testing.T, balance string) uuid.UUID {
	user, err := database.EnsureUser(context.Background(), s.db, "user-"+uuid.NewString()[:8], "", database.RoleRegular, decimal.RequireFromString(balance))
	require.NoError(t, err)
	return user.Id
}

func (s *testServer) do(t *testing.T, method, url string, userId uuid.UUID, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, url, reader)
	if userId != uuid.Nil {
		req.Header.Set(backend.UserIdHeader, userId.String())
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListModels(t *testing.T) {
	s := newTestServer(t)
	_, err := database.UpsertModel(context.Background(), s.db, database.MLModel{
		Name:              "Retired TTS",
		CostPerPrediction: decimal.RequireFromString("2.00"),
		IsActive:          false,
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/models", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	models := decode[[]api.Model](t, rec)
	require.Len(t, models, 1)
	assert.Equal(t, testModelName, models[0].Name)
	assert.Equal(t, "1.0", models[0].Version)
	assert.True(t, decimal.RequireFromString("0.50").Equal(models[0].CostPerPrediction))
}

func TestSubmitTextPrediction(t *testing.T) {
	s := newTestServer(t)
	userId := s.createUser(t, "10")

	rec := s.do(t, http.MethodPost, "/api/v1/predict/text", userId, api.TextPredictionRequest{
		ModelName:      testModelName,
		Text:           "Привет, Алиса",
		ChannelAddress: "4242",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[api.SubmitPredictionResponse](t, rec)
	assert.Equal(t, database.TaskPending, res.Status)

	select {
	case msg := <-s.queue.Tasks():
		payload, err := messaging.DecodePayload(msg.Payload())
		require.NoError(t, err)
		assert.Equal(t, res.TaskId, payload.TaskId)
		assert.Equal(t, database.DataText, payload.OutputType)
	case <-time.After(time.Second):
		t.Fatal("task was not published")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/predict/"+res.TaskId.String(), userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prediction := decode[api.Prediction](t, rec)
	assert.Equal(t, testModelName, prediction.Model)
	assert.Equal(t, database.TaskPending, prediction.Status)
	assert.Nil(t, prediction.Result)

	// Admission charges nothing.
	rec = s.do(t, http.MethodGet, "/api/v1/balance", userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.NewFromInt(10).Equal(decode[api.Balance](t, rec).Balance))
}

func TestSubmitTextPredictionErrors(t *testing.T) {
	s := newTestServer(t)
	rich := s.createUser(t, "10")
	poor := s.createUser(t, "0.10")

	tests := []struct {
		name   string
		userId uuid.UUID
		body   any
		code   int
	}{
		{name: "missing user", userId: uuid.Nil, body: api.TextPredictionRequest{ModelName: testModelName, Text: "hi"}, code: http.StatusUnauthorized},
		{name: "unknown user", userId: uuid.New(), body: api.TextPredictionRequest{ModelName: testModelName, Text: "hi"}, code: http.StatusNotFound},
		{name: "unknown model", userId: rich, body: api.TextPredictionRequest{ModelName: "GPT-9", Text: "hi"}, code: http.StatusNotFound},
		{name: "empty text", userId: rich, body: api.TextPredictionRequest{ModelName: testModelName}, code: http.StatusUnprocessableEntity},
		{name: "bad output type", userId: rich, body: api.TextPredictionRequest{ModelName: testModelName, Text: "hi", OutputType: "video"}, code: http.StatusUnprocessableEntity},
		{name: "insufficient balance", userId: poor, body: api.TextPredictionRequest{ModelName: testModelName, Text: "hi"}, code: http.StatusPaymentRequired},
		{name: "malformed body", userId: rich, body: "not an object", code: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/predict/text", tc.userId, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	var count int64
	require.NoError(t, s.db.Model(&database.Task{}).Count(&count).Error)
	assert.Zero(t, count)
}

func multipartBody(t *testing.T, fields map[string]string, filename string, audio []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (s *testServer) postAudio(t *testing.T, userId uuid.UUID, fields map[string]string, filename string, audio []byte) *httptest.ResponseRecorder {
	body, contentType := multipartBody(t, fields, filename, audio)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict/audio", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(backend.UserIdHeader, userId.String())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAudioPrediction(t *testing.T) {
	s := newTestServer(t)
	userId := s.createUser(t, "10")

	rec := s.postAudio(t, userId, map[string]string{"model_name": testModelName, "output_type": "audio"}, "voice.ogg", []byte("OggS voice"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.SubmitPredictionResponse](t, rec)

	task, err := database.GetTask(context.Background(), s.db, res.TaskId)
	require.NoError(t, err)
	assert.Equal(t, database.DataAudio, task.InputType)
	assert.Equal(t, database.DataAudio, task.OutputType)
	assert.Equal(t, core.UploadKey(task.Id, ".ogg"), task.InputData)

	obj, err := s.store.GetObject(context.Background(), task.InputData)
	require.NoError(t, err)
	defer obj.Close()
	data := new(bytes.Buffer)
	_, err = data.ReadFrom(obj)
	require.NoError(t, err)
	assert.Equal(t, "OggS voice", data.String())
}

func TestSubmitAudioPredictionErrors(t *testing.T) {
	s := newTestServer(t)
	userId := s.createUser(t, "10")

	rec := s.postAudio(t, userId, map[string]string{"model_name": testModelName}, "voice.ogg", bytes.Repeat([]byte("a"), 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = s.postAudio(t, userId, map[string]string{"model_name": testModelName}, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.postAudio(t, userId, map[string]string{}, "voice.ogg", []byte("OggS"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.postAudio(t, userId, map[string]string{"model_name": testModelName}, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// completeWithAudio drives a submitted task to completed with a stored voice
// reply, the way a worker would.
func (s *testServer) completeWithAudio(t *testing.T, taskId uuid.UUID) string {
	ctx := context.Background()
	key := core.ResultKey(taskId, ".ogg")
	require.NoError(t, s.store.PutObject(ctx, key, strings.NewReader("OggS reply")))

	data, err := core.EncodePrediction(&core.AudioPrediction{
		Transcription: "Какая погода?",
		Output:        "Солнечно",
		Model:         testModelName,
		AudioResult:   key,
	})
	require.NoError(t, err)

	result := &database.PredictionResult{Id: uuid.New(), PredictionData: data, ValidData: 1}
	require.NoError(t, database.ClaimTask(ctx, s.db, taskId))
	require.NoError(t, database.SaveResult(ctx, s.db, result))
	require.NoError(t, database.CompleteTask(ctx, s.db, taskId, result.Id))
	return key
}

func TestGetPredictionAudio(t *testing.T) {
	s := newTestServer(t)
	userId := s.createUser(t, "10")
	other := s.createUser(t, "10")

	rec := s.postAudio(t, userId, map[string]string{"model_name": testModelName}, "voice.ogg", []byte("OggS"))
	require.Equal(t, http.StatusOK, rec.Code)
	taskId := decode[api.SubmitPredictionResponse](t, rec).TaskId

	url := "/api/v1/predict/" + taskId.String() + "/audio"
	rec = s.do(t, http.MethodGet, url, userId, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.completeWithAudio(t, taskId)

	rec = s.do(t, http.MethodGet, url, userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OggS reply", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodGet, url, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/predict/"+taskId.String(), userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prediction := decode[api.Prediction](t, rec)
	assert.Equal(t, database.TaskCompleted, prediction.Status)
	require.NotNil(t, prediction.Result)
	assert.Equal(t, "Какая погода?", prediction.Result.Transcription)
	assert.Equal(t, "Солнечно", prediction.Result.Output)
	assert.True(t, prediction.Result.HasAudio)
	assert.NotNil(t, prediction.CompletionTime)
}

func TestGetPredictionNotFound(t *testing.T) {
	s := newTestServer(t)
	userId := s.createUser(t, "10")

	rec := s.do(t, http.MethodGet, "/api/v1/predict/"+uuid.NewString(), userId, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/predict/not-a-uuid", userId, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopUpAndHistory(t *testing.T) {
	s := newTestServer(t)
	userId := s.createUser(t, "1")

	rec := s.do(t, http.MethodPost, "/api/v1/balance/topup", userId, api.TopUpRequest{Amount: decimal.RequireFromString("25.50")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.RequireFromString("26.50").Equal(decode[api.Balance](t, rec).Balance))

	rec = s.do(t, http.MethodPost, "/api/v1/balance/topup", userId, api.TopUpRequest{Amount: decimal.RequireFromString("-5")})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/balance/topup", uuid.New(), api.TopUpRequest{Amount: decimal.NewFromInt(5)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/history/transactions", userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]api.Transaction](t, rec)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, database.TransactionCredit, tx.Type)
		assert.Nil(t, tx.TaskId)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/history/transactions?limit=1&offset=1", userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.Transaction](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/v1/history/transactions?limit=500", userId, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListPredictions(t *testing.T) {
	s := newTestServer(t)
	userId := s.createUser(t, "10")
	other := s.createUser(t, "10")

	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/predict/text", userId, api.TextPredictionRequest{ModelName: testModelName, Text: fmt.Sprintf("prompt %d", i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/v1/predict/text", other, api.TextPredictionRequest{ModelName: testModelName, Text: "someone else"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/history/predictions", userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.Prediction](t, rec), 3)

	rec = s.do(t, http.MethodGet, "/api/v1/history/predictions?limit=2", userId, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.Prediction](t, rec), 2)
}
