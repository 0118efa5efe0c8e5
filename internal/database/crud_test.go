package database_test

import (
	"context"
	"testing"

	"github.com/domospb/whoisalice/internal/database"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertInactiveModel(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	model, err := database.UpsertModel(ctx, db, database.MLModel{
		Name:              "Retired",
		CostPerPrediction: decimal.RequireFromString("0.50"),
		IsActive:          false,
	})
	require.NoError(t, err)

	_, err = database.GetActiveModelByName(ctx, db, "Retired")
	assert.ErrorIs(t, err, database.ErrModelNotFound)

	models, err := database.ListActiveModels(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, models)

	_, err = database.UpsertModel(ctx, db, database.MLModel{
		Name:              "Retired",
		CostPerPrediction: decimal.RequireFromString("0.50"),
		IsActive:          true,
	})
	require.NoError(t, err)

	active, err := database.GetActiveModelByName(ctx, db, "Retired")
	require.NoError(t, err)
	assert.Equal(t, model.Id, active.Id)
}
