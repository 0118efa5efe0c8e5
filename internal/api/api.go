package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/domospb/whoisalice/internal/core"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/storage"
	"github.com/domospb/whoisalice/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UserIdHeader = "X-User-Id"

	defaultPageSize = 20
)

var audioExts = map[string]bool{
	".ogg": true, ".oga": true, ".opus": true, ".wav": true,
	".mp3": true, ".m4a": true, ".webm": true, ".flac": true,
}

type BackendService struct {
	db        *gorm.DB
	submitter *core.Submitter
	storage   storage.ObjectStore

	maxAudioBytes int64
}

func NewBackendService(db *gorm.DB, submitter *core.Submitter, storage storage.ObjectStore, maxAudioBytes int64) *BackendService {
	return &BackendService{db: db, submitter: submitter, storage: storage, maxAudioBytes: maxAudioBytes}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", RestHandler(s.ListModels))
		r.Route("/predict", func(r chi.Router) {
			r.Post("/text", RestHandler(s.SubmitTextPrediction))
			r.Post("/audio", RestHandler(s.SubmitAudioPrediction))
			r.Get("/{task_id}", RestHandler(s.GetPrediction))
			r.Get("/{task_id}/audio", s.GetPredictionAudio)
		})
		r.Route("/balance", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetBalance))
			r.Post("/topup", RestHandler(s.TopUp))
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/transactions", RestHandler(s.ListTransactions))
			r.Get("/predictions", RestHandler(s.ListPredictions))
		})
	})
}

type pageParams struct {
	Limit  int `schema:"limit" validate:"min=0,max=100"`
	Offset int `schema:"offset" validate:"min=0"`
}

func (p pageParams) limit() int {
	if p.Limit == 0 {
		return defaultPageSize
	}
	return p.Limit
}

func requestUser(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get(UserIdHeader)
	if header == "" {
		return uuid.Nil, CodedErrorf(http.StatusUnauthorized, "missing %s header", UserIdHeader)
	}
	id, err := uuid.Parse(header)
	if err != nil {
		return uuid.Nil, CodedErrorf(http.StatusUnauthorized, "invalid %s header: %v", UserIdHeader, err)
	}
	return id, nil
}

func submitError(err error) error {
	var admission *core.AdmissionError
	if errors.As(err, &admission) {
		switch admission.Reason {
		case core.ReasonInsufficientBalance:
			return CodedError(http.StatusPaymentRequired, err)
		case core.ReasonUnknownModel, core.ReasonUnknownUser:
			return CodedError(http.StatusNotFound, err)
		default:
			return CodedError(http.StatusUnprocessableEntity, err)
		}
	}

	var publish *core.PublishError
	if errors.As(err, &publish) {
		return CodedErrorf(http.StatusServiceUnavailable, "task %s could not be queued, try again later", publish.TaskId)
	}

	slog.Error("error submitting prediction", "error", err)
	return CodedErrorf(http.StatusInternalServerError, "failed to submit prediction")
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	models, err := database.ListActiveModels(r.Context(), s.db)
	if err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to list models")
	}
	return convertModels(models), nil
}

func (s *BackendService) SubmitTextPrediction(r *http.Request) (any, error) {
	userId, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.TextPredictionRequest](r)
	if err != nil {
		return nil, err
	}

	outputType := req.OutputType
	if outputType == "" {
		outputType = database.DataText
	}

	task, err := s.submitter.Submit(r.Context(), core.SubmitRequest{
		UserId:         userId,
		ModelName:      req.ModelName,
		InputType:      database.DataText,
		OutputType:     outputType,
		Text:           req.Text,
		ChannelAddress: req.ChannelAddress,
	})
	if err != nil {
		return nil, submitError(err)
	}

	return api.SubmitPredictionResponse{TaskId: task.Id, Status: task.Status}, nil
}

func (s *BackendService) SubmitAudioPrediction(r *http.Request) (any, error) {
	userId, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	r.Body = http.MaxBytesReader(nil, r.Body, s.maxAudioBytes)
	if err := r.ParseMultipartForm(s.maxAudioBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, CodedErrorf(http.StatusRequestEntityTooLarge, "audio file exceeds %d bytes", s.maxAudioBytes)
		}
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form: %v", err)
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("error removing multipart temp files", "error", err)
		}
	}()

	modelName := r.FormValue("model_name")
	if modelName == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model_name is required")
	}

	outputType := r.FormValue("output_type")
	switch outputType {
	case "":
		outputType = database.DataText
	case database.DataText, database.DataAudio:
	default:
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "unsupported output_type %q", outputType)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing audio file: %v", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = inferAudioExt(header.Header.Get("Content-Type"))
	}
	if !audioExts[ext] {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "unsupported audio format %q", ext)
	}

	task, err := s.submitter.Submit(r.Context(), core.SubmitRequest{
		UserId:         userId,
		ModelName:      modelName,
		InputType:      database.DataAudio,
		OutputType:     outputType,
		Audio:          file,
		AudioExt:       ext,
		ChannelAddress: r.FormValue("channel_address"),
	})
	if err != nil {
		return nil, submitError(err)
	}

	return api.SubmitPredictionResponse{TaskId: task.Id, Status: task.Status}, nil
}

func inferAudioExt(contentType string) string {
	if contentType == "" {
		return ".ogg"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	for _, ext := range exts {
		if audioExts[ext] {
			return ext
		}
	}
	return exts[0]
}

func (s *BackendService) userTask(r *http.Request) (*database.Task, error) {
	userId, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	taskId, err := URLParamUUID(r, "task_id")
	if err != nil {
		return nil, err
	}

	task, err := database.GetTask(r.Context(), s.db, taskId)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task %s not found", taskId)
		}
		slog.Error("error loading task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to load task")
	}

	if task.UserId != userId {
		return nil, CodedErrorf(http.StatusNotFound, "task %s not found", taskId)
	}
	return task, nil
}

func (s *BackendService) GetPrediction(r *http.Request) (any, error) {
	task, err := s.userTask(r)
	if err != nil {
		return nil, err
	}
	return convertTask(*task), nil
}

func (s *BackendService) GetPredictionAudio(w http.ResponseWriter, r *http.Request) {
	task, err := s.userTask(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var key string
	if task.Result != nil {
		if prediction, err := core.DecodePrediction(task.Result.PredictionData); err == nil {
			key = prediction.AudioKey()
		}
	}
	if key == "" {
		writeError(w, CodedErrorf(http.StatusNotFound, "task %s has no audio result", task.Id))
		return
	}

	audio, err := s.storage.GetObject(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, CodedErrorf(http.StatusNotFound, "audio result for task %s is missing", task.Id))
			return
		}
		writeError(w, CodedError(http.StatusInternalServerError, fmt.Errorf("error loading audio result: %w", err)))
		return
	}
	defer audio.Close()

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(key)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, audio); err != nil {
		slog.Error("error streaming audio result", "task_id", task.Id, "error", err)
	}
}

func (s *BackendService) GetBalance(r *http.Request) (any, error) {
	userId, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	wallet, err := database.GetWallet(r.Context(), s.db, userId)
	if err != nil {
		if errors.Is(err, database.ErrWalletNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "no wallet for user %s", userId)
		}
		slog.Error("error loading wallet", "user_id", userId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to load balance")
	}

	return api.Balance{UserId: userId, Balance: wallet.Balance, Currency: wallet.Currency}, nil
}

func (s *BackendService) TopUp(r *http.Request) (any, error) {
	userId, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.TopUpRequest](r)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "amount must be positive")
	}

	description := req.Description
	if description == "" {
		description = "Balance top-up"
	}

	wallet, err := s.submitter.TopUp(r.Context(), userId, req.Amount, description)
	if err != nil {
		if errors.Is(err, database.ErrWalletNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "no wallet for user %s", userId)
		}
		slog.Error("error topping up wallet", "user_id", userId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to top up balance")
	}

	return api.Balance{UserId: userId, Balance: wallet.Balance, Currency: wallet.Currency}, nil
}

func (s *BackendService) ListTransactions(r *http.Request) (any, error) {
	userId, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	page, err := ParseRequestQueryParams[pageParams](r)
	if err != nil {
		return nil, err
	}

	txs, err := database.ListTransactions(r.Context(), s.db, userId, page.limit(), page.Offset)
	if err != nil {
		slog.Error("error listing transactions", "user_id", userId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to list transactions")
	}
	return convertTransactions(txs), nil
}

func (s *BackendService) ListPredictions(r *http.Request) (any, error) {
	userId, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	page, err := ParseRequestQueryParams[pageParams](r)
	if err != nil {
		return nil, err
	}

	tasks, err := database.ListUserTasks(r.Context(), s.db, userId, page.limit(), page.Offset)
	if err != nil {
		slog.Error("error listing predictions", "user_id", userId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to list predictions")
	}
	return convertTasks(tasks), nil
}
