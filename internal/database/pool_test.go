package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/o3willard-AI/alcs-sub001/config"
	"github.com/o3willard-AI/alcs-sub001/internal/metrics"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	// 初始化时不 ping，ping 只由各测试显式期望
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Same(t, gormDB, manager.DB())
	assert.Equal(t, cfg, manager.config)
	assert.Equal(t, "postgres", manager.label)
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)
}

func TestNewPoolManager_Errors(t *testing.T) {
	_, err := NewPoolManager(nil, testPoolConfig(), nil)
	assert.Error(t, err)

	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()
	_, err = NewPoolManager(gormDB, PoolConfig{}, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorContains(t, manager.Ping(context.Background()), "closed")
}

func TestPoolManager_HealthCheckReportsConnections(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	collector := metrics.NewCollector("db_health_test", zap.NewNop())
	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 20 * time.Millisecond

	// 健康检查的 ping 次数不定，未消费的 ping 不应挡住 Close
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 100; i++ {
		mock.ExpectPing()
	}
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop(), WithMetrics(collector, "sessions"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "db_health_test_db_connections_open")
		return err == nil && n > 0
	}, time.Second, 10*time.Millisecond)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
}

func TestPoolManager_QueryCallbacksRecordDuration(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	collector := metrics.NewCollector("db_query_test", zap.NewNop())
	cfg := testPoolConfig()
	cfg.SlowQueryThreshold = time.Nanosecond
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop(), WithMetrics(collector, "sessions"))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	var n int64
	require.NoError(t, manager.DB().Table("sessions").Count(&n).Error)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "db_query_test_db_query_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, false},
		{"no open conns", PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, true},
		{"no idle conns", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, true},
		{"idle > open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
		{"defaults", DefaultPoolConfig(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{Driver: "postgres", MaxOpenConns: 40, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 40, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)

	lite := PoolConfigFrom(config.DatabaseConfig{Driver: "sqlite", MaxOpenConns: 40})
	assert.Equal(t, 1, lite.MaxOpenConns)
	assert.NoError(t, lite.Validate())
}

func TestOpen(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")

	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "alcs.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Dialector.Name())

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	sqlDB.Close()
}
