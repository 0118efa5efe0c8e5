package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/inference"
	"github.com/domospb/whoisalice/internal/storage"

	"github.com/google/uuid"
)

// ResultKey is the storage key of the synthesized answer for taskId.
func ResultKey(taskId uuid.UUID, ext string) string {
	if ext == "" {
		ext = inference.DefaultAudioExt
	}
	return path.Join(storage.ResultsPrefix, taskId.String()+"_result"+ext)
}

func (proc *TaskProcessor) withStageTimeout(ctx context.Context, stage string, fn func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, proc.stageTimeout)
	defer cancel()

	if err := fn(stageCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", proc.stageTimeout, err)
		}
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// runPipeline executes the stages for task in order. On failure it returns
// the StageError and, when synthesis failed after the text answer was ready,
// a PartialPrediction holding that answer.
func (proc *TaskProcessor) runPipeline(ctx context.Context, task *database.Task) (Prediction, error) {
	modelName := task.Model.Name

	var input, transcription string
	switch task.InputType {
	case database.DataText:
		input = task.InputData

	case database.DataAudio:
		audioPath, cleanup, err := proc.storage.LocalPath(ctx, task.InputData)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, &StageError{Stage: StageInput, Err: fmt.Errorf("audio file not found: %s", task.InputData)}
			}
			return nil, &StageError{Stage: StageInput, Err: err}
		}
		defer cleanup()

		err = proc.withStageTimeout(ctx, StageTranscription, func(ctx context.Context) error {
			transcription, err = proc.transcriber.Transcribe(ctx, audioPath)
			return err
		})
		if err != nil {
			return nil, err
		}
		input = transcription

	default:
		return nil, &StageError{Stage: StageInput, Err: fmt.Errorf("unsupported input type %q", task.InputType)}
	}

	var output string
	err := proc.withStageTimeout(ctx, StageGeneration, func(ctx context.Context) error {
		var err error
		output, err = proc.generator.Generate(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	var audioKey string
	if task.InputType == database.DataAudio || task.OutputType == database.DataAudio {
		audioKey, err = proc.synthesize(ctx, task.Id, output)
		if err != nil {
			partial := &PartialPrediction{Output: output, Model: modelName, Worker: proc.workerId}
			if task.InputType == database.DataAudio {
				partial.Transcription = transcription
			} else {
				partial.Input = input
			}
			return partial, err
		}
	}

	if task.InputType == database.DataAudio {
		return &AudioPrediction{
			Transcription: transcription,
			Output:        output,
			Model:         modelName,
			Worker:        proc.workerId,
			AudioResult:   audioKey,
		}, nil
	}

	return &TextPrediction{
		Input:       input,
		Output:      output,
		Model:       modelName,
		Worker:      proc.workerId,
		AudioResult: audioKey,
	}, nil
}

func (proc *TaskProcessor) synthesize(ctx context.Context, taskId uuid.UUID, text string) (string, error) {
	var audio inference.Audio
	err := proc.withStageTimeout(ctx, StageSynthesis, func(ctx context.Context) error {
		var err error
		audio, err = proc.synthesizer.Synthesize(ctx, text)
		return err
	})
	if err != nil {
		return "", err
	}

	key := ResultKey(taskId, audio.Ext)
	if err := proc.storage.PutObject(ctx, key, bytes.NewReader(audio.Data)); err != nil {
		return "", &StageError{Stage: StageSynthesis, Err: fmt.Errorf("error storing synthesized audio: %w", err)}
	}
	return key, nil
}
