package schools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schoolColumns = []string{"id", "name", "slug", "manager_id", "subscription_id", "created_at", "updated_at"}

func TestGetSchool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db)
	now := time.Now()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM schools WHERE id = \\$1").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(schoolColumns).
				AddRow(7, "Riverside High", "riverside-high", 3, "sub_123", now, now))

		school, err := service.GetSchool(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), school.ID)
		assert.Equal(t, "riverside-high", school.Slug)
		require.NotNil(t, school.ManagerID)
		assert.Equal(t, int64(3), *school.ManagerID)
		require.NotNil(t, school.SubscriptionID)
		assert.Equal(t, "sub_123", *school.SubscriptionID)
		assert.True(t, school.IsManagedBy(3))
		assert.False(t, school.IsManagedBy(4))
		assert.True(t, school.HasSubscription())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null manager and subscription", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM schools WHERE id = \\$1").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows(schoolColumns).
				AddRow(8, "Hill School", "hill", nil, nil, now, now))

		school, err := service.GetSchool(context.Background(), 8)
		require.NoError(t, err)
		assert.Nil(t, school.ManagerID)
		assert.Nil(t, school.SubscriptionID)
		assert.False(t, school.IsManagedBy(3))
		assert.False(t, school.HasSubscription())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM schools WHERE id = \\$1").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(schoolColumns))

		school, err := service.GetSchool(context.Background(), 99)
		assert.Nil(t, school)
		assert.ErrorIs(t, err, ErrSchoolNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM schools WHERE id = \\$1").
			WithArgs(int64(1)).
			WillReturnError(errors.New("connection reset"))

		_, err := service.GetSchool(context.Background(), 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSchoolNotFound)
		assert.Contains(t, err.Error(), "failed to get school")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetSchoolBySlug(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM schools WHERE slug = \\$1").
		WithArgs("riverside-high").
		WillReturnRows(sqlmock.NewRows(schoolColumns).
			AddRow(7, "Riverside High", "riverside-high", 3, nil, now, now))

	school, err := service.GetSchoolBySlug(context.Background(), "riverside-high")
	require.NoError(t, err)
	assert.Equal(t, "Riverside High", school.Name)

	mock.ExpectQuery("SELECT (.+) FROM schools WHERE slug = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(schoolColumns))

	_, err = service.GetSchoolBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSchoolNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubscribedSchools(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM schools WHERE subscription_id IS NOT NULL").
		WillReturnRows(sqlmock.NewRows(schoolColumns).
			AddRow(1, "A", "a", 10, "sub_a", now, now).
			AddRow(2, "B", "b", 11, "dummy_sub_2_1700000000", now, now))

	schools, err := service.ListSubscribedSchools(context.Background())
	require.NoError(t, err)
	require.Len(t, schools, 2)
	assert.Equal(t, "sub_a", *schools[0].SubscriptionID)
	assert.Equal(t, "dummy_sub_2_1700000000", *schools[1].SubscriptionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchoolBySubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM schools WHERE subscription_id = \\$1").
		WithArgs("sub_123").
		WillReturnRows(sqlmock.NewRows(schoolColumns).
			AddRow(7, "Riverside High", "riverside-high", 3, "sub_123", now, now))
	mock.ExpectQuery("SELECT (.+) FROM schools WHERE subscription_id = \\$1").
		WithArgs("sub_orphan").
		WillReturnRows(sqlmock.NewRows(schoolColumns))

	school, err := service.GetSchoolBySubscription(context.Background(), "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "riverside-high", school.Slug)

	_, err = service.GetSchoolBySubscription(context.Background(), "sub_orphan")
	assert.ErrorIs(t, err, ErrSchoolNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
