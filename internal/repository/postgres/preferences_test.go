package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/homerec/internal/validation"
	"github.com/temcen/homerec/pkg/models"
)

func TestPreferenceRepository_Latest(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewPreferenceRepository(mockDB, validation.MustNewSchemaValidator(), quietLogger())
	updated := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("lenient decoding", func(t *testing.T) {
		mockDB.ExpectQuery("FROM user_preferences").
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"user_id", "preference_data", "updated_at"}).
				AddRow(int64(1), []byte(`{
					"price_range": {"min": "300", "max": 500},
					"area_range": 90,
					"bedroom_range": {"min": 2},
					"locations": ["南山区", "福田区"],
					"keywords": ["地铁"],
					"pets": true
				}`), updated))

		p, err := repo.Latest(context.Background(), 1)
		require.NoError(t, err)

		assert.Equal(t, &models.Range{Min: 300, Max: 500}, p.PriceRange)
		// not an object, dropped
		assert.Nil(t, p.AreaRange)
		assert.Equal(t, &models.Range{Min: 2}, p.BedroomRange)
		assert.Equal(t, []string{"南山区", "福田区"}, p.Locations)
		assert.Equal(t, []string{"地铁"}, p.Keywords)
		assert.Equal(t, true, p.Extra["preference_data.pets"])
		assert.Equal(t, updated, p.UpdatedAt)
	})

	t.Run("no preference", func(t *testing.T) {
		mockDB.ExpectQuery("FROM user_preferences").
			WithArgs(int64(2)).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.Latest(context.Background(), 2)
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPreferenceRepository_ListLatest(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	updated := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mockDB.ExpectQuery("DISTINCT ON \\(user_id\\)").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "preference_data", "updated_at"}).
			AddRow(int64(1), []byte(`{"locations":["南山区"]}`), updated).
			AddRow(int64(2), []byte(`{}`), updated))

	prefs, err := NewPreferenceRepository(mockDB, nil, quietLogger()).ListLatest(context.Background())
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, []string{"南山区"}, prefs[0].Locations)
	assert.Nil(t, prefs[1].PriceRange)

	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestUserRepository_UserExists(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM users").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mockDB.ExpectQuery("FROM users").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	repo := NewUserRepository(mockDB)
	ok, err := repo.UserExists(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UserExists(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mockDB.ExpectationsWereMet())
}
