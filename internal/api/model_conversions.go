package api

import (
	"log/slog"

	"github.com/domospb/whoisalice/internal/core"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/pkg/api"
)

func convertModel(m database.MLModel) api.Model {
	return api.Model{
		Id:                m.Id,
		Name:              m.Name,
		Description:       m.Description,
		CostPerPrediction: m.CostPerPrediction,
		Version:           m.Version,
	}
}

func convertModels(ms []database.MLModel) []api.Model {
	models := make([]api.Model, 0, len(ms))
	for _, m := range ms {
		models = append(models, convertModel(m))
	}
	return models
}

func convertResult(r *database.PredictionResult) *api.PredictionResult {
	if r == nil {
		return nil
	}

	prediction, err := core.DecodePrediction(r.PredictionData)
	if err != nil {
		slog.Warn("unreadable prediction result", "result_id", r.Id, "error", err)
		return nil
	}

	result := &api.PredictionResult{
		Output:   prediction.Reply(),
		HasAudio: prediction.AudioKey() != "",
	}
	switch p := prediction.(type) {
	case *core.TextPrediction:
		result.Input = p.Input
	case *core.AudioPrediction:
		result.Transcription = p.Transcription
	case *core.PartialPrediction:
		result.Input = p.Input
		result.Transcription = p.Transcription
		result.Partial = true
		result.Error = p.Error
	}
	return result
}

func convertTask(t database.Task) api.Prediction {
	prediction := api.Prediction{
		TaskId:       t.Id,
		InputType:    t.InputType,
		OutputType:   t.OutputType,
		Status:       t.Status,
		ErrorMessage: t.ErrorMessage.String,
		Result:       convertResult(t.Result),
		CreationTime: t.CreationTime,
	}
	if t.Model != nil {
		prediction.Model = t.Model.Name
	}
	if t.CompletionTime.Valid {
		prediction.CompletionTime = &t.CompletionTime.Time
	}
	return prediction
}

func convertTasks(ts []database.Task) []api.Prediction {
	predictions := make([]api.Prediction, 0, len(ts))
	for _, t := range ts {
		predictions = append(predictions, convertTask(t))
	}
	return predictions
}

func convertTransaction(t database.Transaction) api.Transaction {
	tx := api.Transaction{
		Id:          t.Id,
		Type:        t.TransactionType,
		Amount:      t.Amount,
		Description: t.Description,
		Timestamp:   t.Timestamp,
	}
	if t.MlTaskId.Valid {
		tx.TaskId = &t.MlTaskId.UUID
	}
	return tx
}

func convertTransactions(ts []database.Transaction) []api.Transaction {
	txs := make([]api.Transaction, 0, len(ts))
	for _, t := range ts {
		txs = append(txs, convertTransaction(t))
	}
	return txs
}
