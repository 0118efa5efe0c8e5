package notifier

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/domospb/whoisalice/internal/channel"
	"github.com/domospb/whoisalice/internal/core"
	"github.com/domospb/whoisalice/internal/database"
)

const (
	completedTranscriptionLimit = 500
	completedReplyLimit         = 800
	partialTranscriptionLimit   = 400
	partialReplyLimit           = 400
	errorLimit                  = 500
)

func cut(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func taskPrediction(task *database.Task) core.Prediction {
	if task.Result == nil || len(task.Result.PredictionData) == 0 {
		return nil
	}
	prediction, err := core.DecodePrediction(task.Result.PredictionData)
	if err != nil {
		slog.Warn("unreadable prediction result", "task_id", task.Id, "error", err)
		return nil
	}
	return prediction
}

// BuildMessage renders the plain text summary sent when task finishes.
func BuildMessage(task *database.Task) string {
	modelName := "Unknown"
	if task.Model != nil {
		modelName = task.Model.Name
	}

	prediction := taskPrediction(task)

	var lines []string
	if task.Status == database.TaskCompleted {
		lines = append(lines, "✅ Task completed", "Task ID: "+task.Id.String(), "Model: "+modelName)

		if audio, ok := prediction.(*core.AudioPrediction); ok && audio.Transcription != "" {
			lines = append(lines, "Transcription: "+cut(audio.Transcription, completedTranscriptionLimit))
		}
		if prediction != nil && prediction.Reply() != "" {
			lines = append(lines, "Reply: "+channel.Truncate(prediction.Reply(), completedReplyLimit))
		}
	} else {
		lines = append(lines, "❌ Task failed", "Task ID: "+task.Id.String(), "Model: "+modelName)

		if partial, ok := prediction.(*core.PartialPrediction); ok {
			if partial.Transcription != "" {
				lines = append(lines, "Transcription: "+cut(partial.Transcription, partialTranscriptionLimit))
			}
			if partial.Output != "" {
				lines = append(lines, "Reply (text): "+cut(partial.Output, partialReplyLimit))
			}
		}
		if task.ErrorMessage.Valid && task.ErrorMessage.String != "" {
			lines = append(lines, "Error: "+channel.Truncate(task.ErrorMessage.String, errorLimit))
		}
	}

	return channel.Truncate(strings.Join(lines, "\n"), channel.MaxMessageLength)
}

func voiceName(task *database.Task, key string) string {
	ext := ".ogg"
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		ext = key[i:]
	}
	return fmt.Sprintf("reply_%s%s", task.Id.String()[:8], ext)
}
