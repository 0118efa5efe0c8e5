package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Model struct {
	Id                uuid.UUID
	Name              string
	Description       string
	CostPerPrediction decimal.Decimal
	Version           string
}

type TextPredictionRequest struct {
	ModelName string `validate:"required,max=100"`
	Text      string `validate:"required,max=4000"`

	// OutputType defaults to text.
	OutputType     string `validate:"omitempty,oneof=text audio"`
	ChannelAddress string `validate:"omitempty,max=64"`
}

type SubmitPredictionResponse struct {
	TaskId uuid.UUID
	Status string
}

type PredictionResult struct {
	Input         string `json:"Input,omitempty"`
	Transcription string `json:"Transcription,omitempty"`
	Output        string
	Partial       bool   `json:"Partial,omitempty"`
	Error         string `json:"Error,omitempty"`
	HasAudio      bool
}

type Prediction struct {
	TaskId     uuid.UUID
	Model      string
	InputType  string
	OutputType string
	Status     string

	ErrorMessage string            `json:"ErrorMessage,omitempty"`
	Result       *PredictionResult `json:"Result,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type Balance struct {
	UserId   uuid.UUID
	Balance  decimal.Decimal
	Currency string
}

type TopUpRequest struct {
	Amount      decimal.Decimal
	Description string `validate:"max=255"`
}

type Transaction struct {
	Id          uuid.UUID
	Type        string
	Amount      decimal.Decimal
	Description string
	TaskId      *uuid.UUID `json:"TaskId,omitempty"`
	Timestamp   time.Time
}
