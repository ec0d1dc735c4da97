package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentcouncil/internal/broker"
	"github.com/BaSui01/agentcouncil/internal/database"
	"github.com/BaSui01/agentcouncil/types"
)

// Journal 反思记录的外部日志
type Journal interface {
	Write(ctx context.Context, rec Record) error
}

// JournalFunc 函数适配器
type JournalFunc func(ctx context.Context, rec Record) error

func (f JournalFunc) Write(ctx context.Context, rec Record) error { return f(ctx, rec) }

// NopJournal 丢弃记录
type NopJournal struct{}

func (NopJournal) Write(context.Context, Record) error { return nil }

// =============================================================================
// zap
// =============================================================================

// LogJournal 以结构化日志输出记录
type LogJournal struct {
	logger *zap.Logger
}

// NewLogJournal 创建日志型 Journal
func NewLogJournal(logger *zap.Logger) *LogJournal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogJournal{logger: logger.With(zap.String("component", "reflection_journal"))}
}

func (j *LogJournal) Write(_ context.Context, rec Record) error {
	j.logger.Info("reflection record",
		zap.String("session_id", rec.SessionID),
		zap.String("direction", string(rec.Direction)),
		zap.String("favorable", string(rec.FavorableDirection)),
		zap.String("pnl", rec.PnL.String()),
		zap.Any("agent_credit", rec.AgentCredit),
		zap.Any("weights", rec.Weights),
		zap.Time("timestamp", rec.Timestamp),
	)
	return nil
}

// =============================================================================
// gorm
// =============================================================================

// reflectionRow reflection_records 表
type reflectionRow struct {
	ID          uint      `gorm:"primaryKey"`
	SessionID   string    `gorm:"size:64;index"`
	Direction   string    `gorm:"size:32"`
	Favorable   string    `gorm:"size:32"`
	PnL         string    `gorm:"size:64"`
	AgentCredit string    `gorm:"type:text"`
	Weights     string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

func (reflectionRow) TableName() string { return "reflection_records" }

// DatabaseJournal 把记录写入关系数据库
type DatabaseJournal struct {
	pm      *database.PoolManager
	retries int
}

// NewDatabaseJournal 创建数据库 Journal 并迁移表结构
func NewDatabaseJournal(pm *database.PoolManager) (*DatabaseJournal, error) {
	if pm == nil {
		return nil, fmt.Errorf("database journal requires a pool manager")
	}
	if err := pm.DB().AutoMigrate(&reflectionRow{}); err != nil {
		return nil, fmt.Errorf("migrate reflection_records: %w", err)
	}
	return &DatabaseJournal{pm: pm, retries: 3}, nil
}

func (j *DatabaseJournal) Write(ctx context.Context, rec Record) error {
	credit, err := json.Marshal(rec.AgentCredit)
	if err != nil {
		return fmt.Errorf("marshal agent credit: %w", err)
	}
	weights, err := json.Marshal(rec.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	row := reflectionRow{
		SessionID:   rec.SessionID,
		Direction:   string(rec.Direction),
		Favorable:   string(rec.FavorableDirection),
		PnL:         rec.PnL.String(),
		AgentCredit: string(credit),
		Weights:     string(weights),
		CreatedAt:   rec.Timestamp,
	}
	return j.pm.WithTransactionRetry(ctx, j.retries, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
}

// Records 按时间顺序读取某个会话的记录
func (j *DatabaseJournal) Records(ctx context.Context, sessionID string) ([]Record, error) {
	var rows []reflectionRow
	if err := j.pm.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query reflection_records: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec := Record{
			SessionID:          r.SessionID,
			Direction:          types.Direction(r.Direction),
			FavorableDirection: types.Direction(r.Favorable),
			Timestamp:          r.CreatedAt,
		}
		if pnl, err := decimal.NewFromString(r.PnL); err == nil {
			rec.PnL = pnl
		}
		if err := json.Unmarshal([]byte(r.AgentCredit), &rec.AgentCredit); err != nil {
			return nil, fmt.Errorf("decode agent credit for %s: %w", r.SessionID, err)
		}
		if err := json.Unmarshal([]byte(r.Weights), &rec.Weights); err != nil {
			return nil, fmt.Errorf("decode weights for %s: %w", r.SessionID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// =============================================================================
// kafka
// =============================================================================

// KafkaJournal 把记录以 JSON 发布到主题，key 为会话 ID
type KafkaJournal struct {
	publisher broker.Publisher
	topic     string
}

// NewKafkaJournal 创建 Kafka Journal
func NewKafkaJournal(publisher broker.Publisher, topic string) *KafkaJournal {
	if topic == "" {
		topic = "agentcouncil.reflections"
	}
	return &KafkaJournal{publisher: publisher, topic: topic}
}

func (j *KafkaJournal) Write(ctx context.Context, rec Record) error {
	return j.publisher.Publish(ctx, j.topic, rec.SessionID, rec)
}

var (
	_ Journal = (*LogJournal)(nil)
	_ Journal = (*DatabaseJournal)(nil)
	_ Journal = (*KafkaJournal)(nil)
)
