package core

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
)

var ErrUnknownPrediction = errors.New("unknown prediction payload")

// Prediction is the payload stored in prediction_results.prediction_data. The
// concrete type is one of TextPrediction, AudioPrediction or PartialPrediction.
type Prediction interface {
	// Reply is the generated text answer.
	Reply() string
	// AudioKey is the storage key of the synthesized answer, if any.
	AudioKey() string
}

type TextPrediction struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Model       string `json:"model"`
	Worker      string `json:"worker,omitempty"`
	AudioResult string `json:"audio_result,omitempty"`
}

func (p *TextPrediction) Reply() string    { return p.Output }
func (p *TextPrediction) AudioKey() string { return p.AudioResult }

type AudioPrediction struct {
	Transcription string `json:"transcription"`
	Output        string `json:"output"`
	Model         string `json:"model"`
	Worker        string `json:"worker,omitempty"`
	AudioResult   string `json:"audio_result"`
}

func (p *AudioPrediction) Reply() string    { return p.Output }
func (p *AudioPrediction) AudioKey() string { return p.AudioResult }

// PartialPrediction keeps the upstream work of a pipeline whose later stage
// failed.
type PartialPrediction struct {
	Input         string `json:"input,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	Partial       bool   `json:"partial"`
	Model         string `json:"model"`
	Worker        string `json:"worker,omitempty"`
}

func (p *PartialPrediction) Reply() string    { return p.Output }
func (p *PartialPrediction) AudioKey() string { return "" }

func EncodePrediction(p Prediction) (datatypes.JSON, error) {
	if partial, ok := p.(*PartialPrediction); ok {
		partial.Partial = true
	}
	data, err := sonic.ConfigStd.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("error encoding prediction: %w", err)
	}
	return datatypes.JSON(data), nil
}

type predictionProbe struct {
	Partial       bool    `json:"partial"`
	Transcription *string `json:"transcription"`
	Output        *string `json:"output"`
}

func DecodePrediction(data []byte) (Prediction, error) {
	var probe predictionProbe
	if err := sonic.ConfigStd.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("error decoding prediction: %w", err)
	}

	var p Prediction
	switch {
	case probe.Partial:
		p = &PartialPrediction{}
	case probe.Transcription != nil:
		p = &AudioPrediction{}
	case probe.Output != nil:
		p = &TextPrediction{}
	default:
		return nil, ErrUnknownPrediction
	}

	if err := sonic.ConfigStd.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("error decoding prediction: %w", err)
	}
	return p, nil
}
