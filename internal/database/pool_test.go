package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

type item struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func openTestPool(t *testing.T) *PoolManager {
	cfg := Config{Driver: "sqlite", DSN: ":memory:", Pool: PoolConfig{MaxOpenConns: 1}}
	pm, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	require.NoError(t, pm.DB().AutoMigrate(&item{}))
	return pm
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite", ""} {
		d, err := Dialector(driver, "")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}
	_, err := Dialector("oracle", "")
	assert.Error(t, err)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_PingAndClose(t *testing.T) {
	pm := openTestPool(t)
	ctx := context.Background()

	require.NoError(t, pm.Ping(ctx))
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())
	assert.Error(t, pm.Ping(ctx))
	assert.Error(t, pm.WithTransaction(ctx, func(*gorm.DB) error { return nil }))
}

func TestPoolManager_WithTransaction(t *testing.T) {
	pm := openTestPool(t)
	ctx := context.Background()

	require.NoError(t, pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&item{Name: "kept"}).Error
	}))

	boom := errors.New("boom")
	err := pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&item{Name: "rolled back"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, pm.DB().Model(&item{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	pm := openTestPool(t)
	ctx := context.Background()

	attempts := 0
	err := pm.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		attempts++
		if attempts < 2 {
			return errors.New("database is locked")
		}
		return tx.Create(&item{Name: "second try"}).Error
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = pm.WithTransactionRetry(ctx, 3, func(*gorm.DB) error {
		attempts++
		return errors.New("constraint violated")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPoolManager_WithTransactionRetryHonorsContext(t *testing.T) {
	pm := openTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pm.WithTransactionRetry(ctx, 10, func(*gorm.DB) error {
		return errors.New("deadlock detected")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("ERROR: could not serialize access (SQLSTATE 40001)")))
	assert.True(t, isRetryableError(errors.New("Lock wait timeout exceeded")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.False(t, isRetryableError(errors.New("duplicate key")))
}
