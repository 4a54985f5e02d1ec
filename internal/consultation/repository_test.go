package consultation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first, err := repo.Store(ctx, Journey{Title: "first"})
	require.NoError(t, err)
	second, err := repo.Store(ctx, NewJourney())
	require.NoError(t, err)

	assert.Equal(t, "1", first)
	assert.Equal(t, "2", second)

	j, err := repo.Fetch(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "first", j.Title)
	assert.NotNil(t, j.DailySchedule)

	_, err = repo.Fetch(ctx, "3")
	assert.ErrorIs(t, err, ErrJourneyNotFound)
}
