package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "URLs with whitespace",
			input:    " postgres://host1:5432/db , postgres://host2:5432/db ",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{
			name:     "URLs with empty entries",
			input:    "postgres://host1:5432/db,,postgres://host2:5432/db,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{name: "only commas and whitespace", input: " , , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func newTestConnectionManager(primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	logger, _ := test.NewNullLogger()
	return &ConnectionManager{primary: primary, replicas: replicas, logger: logger}
}

func TestReplicaRoundRobin(t *testing.T) {
	primary := &sql.DB{}
	r1, r2, r3 := &sql.DB{}, &sql.DB{}, &sql.DB{}

	t.Run("no replicas falls back to primary", func(t *testing.T) {
		cm := newTestConnectionManager(primary)
		assert.Same(t, primary, cm.Replica())
		assert.Same(t, primary, cm.Primary())
	})

	t.Run("cycles through replicas", func(t *testing.T) {
		cm := newTestConnectionManager(primary, r1, r2, r3)

		seen := map[*sql.DB]int{}
		for i := 0; i < 9; i++ {
			seen[cm.Replica()]++
		}
		assert.Equal(t, map[*sql.DB]int{r1: 3, r2: 3, r3: 3}, seen)
	})
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing()

		cm := newTestConnectionManager(primary, replica)
		assert.NoError(t, cm.HealthCheck(ctx))
	})

	t.Run("primary down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		pm.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := newTestConnectionManager(primary)
		err := cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := newTestConnectionManager(primary, replica)
		err := cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "replica-0")
	})
}

func TestConnectionManagerHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		primary, pm := newPingMock(t)
		pm.ExpectPing()

		status := newTestConnectionManager(primary).Health(ctx)
		assert.Equal(t, observability.StatusHealthy, status.Status)
		assert.Empty(t, status.Message)
	})

	t.Run("replicas down degrades", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing().WillReturnError(errors.New("connection refused"))

		status := newTestConnectionManager(primary, replica).Health(ctx)
		assert.Equal(t, observability.StatusDegraded, status.Status)
		assert.Contains(t, status.Message, "all replicas unhealthy")
	})
}

func TestRemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	healthy, hm := newPingMock(t)
	broken, bm := newPingMock(t)
	hm.ExpectPing()
	bm.ExpectPing().WillReturnError(errors.New("connection reset"))
	bm.ExpectClose()

	cm := newTestConnectionManager(primary, healthy, broken)
	removed := cm.RemoveUnhealthyReplicas(context.Background())

	assert.Equal(t, 1, removed)
	assert.Same(t, healthy, cm.Replica())
	assert.NoError(t, bm.ExpectationsWereMet())
}

func TestClose(t *testing.T) {
	primary, pm := newPingMock(t)
	replica, rm := newPingMock(t)
	pm.ExpectPing()
	rm.ExpectPing()
	pm.ExpectClose()
	rm.ExpectClose().WillReturnError(errors.New("already closed"))
	require.NoError(t, primary.Ping())
	require.NoError(t, replica.Ping())

	cm := newTestConnectionManager(primary, replica)
	err := cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica-0 close error")
	assert.Same(t, primary, cm.Replica())
}
