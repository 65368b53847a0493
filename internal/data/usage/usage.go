package usage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

// Query selects daily usage rows: days in [From, To], for TargetIDs, minus ExcludedClients.
type Query struct {
	TargetIDs       []string
	ExcludedClients []string
	From            time.Time
	To              time.Time
}

// Reader answers the request counts conditional breaking changes are judged by.
type Reader interface {
	TotalRequests(ctx context.Context, q Query) (int64, error)
	CoordinateRequests(ctx context.Context, q Query, coordinates []string) (map[string]int64, error)
}

// Recorder ingests aggregated daily counts.
type Recorder interface {
	Record(ctx context.Context, targetID uuid.UUID, clientName string, day time.Time, total int64, coordinates map[string]int64) error
}

type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) *Store {
	return &Store{db: db, log: baseLog.With("repo", "UsageStore")}
}

// Day truncates t to its UTC calendar day, the granularity usage is stored at.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Window is the query of the last days daily buckets ending with today's, both ends inclusive.
func Window(now time.Time, days int) Query {
	if days < 1 {
		days = 1
	}
	to := Day(now)
	return Query{From: to.AddDate(0, 0, -(days - 1)), To: to}
}

func (q Query) targetUUIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(q.TargetIDs))
	for _, raw := range q.TargetIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s *Store) scope(db *gorm.DB, q Query, targets []uuid.UUID) *gorm.DB {
	db = db.Where("target_id IN ?", targets).
		Where("day >= ? AND day <= ?", Day(q.From), Day(q.To))
	if len(q.ExcludedClients) > 0 {
		db = db.Where("client_name NOT IN ?", q.ExcludedClients)
	}
	return db
}

func (s *Store) TotalRequests(ctx context.Context, q Query) (int64, error) {
	targets := q.targetUUIDs()
	if len(targets) == 0 {
		return 0, nil
	}
	var total int64
	err := s.scope(dbctx.Context{Ctx: ctx}.DB(s.db).Model(&types.OperationUsageDaily{}), q, targets).
		Select("COALESCE(SUM(count), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Store) CoordinateRequests(ctx context.Context, q Query, coordinates []string) (map[string]int64, error) {
	out := make(map[string]int64, len(coordinates))
	for _, c := range coordinates {
		out[c] = 0
	}
	targets := q.targetUUIDs()
	if len(targets) == 0 || len(coordinates) == 0 {
		return out, nil
	}
	var rows []struct {
		Coordinate string
		Total      int64
	}
	err := s.scope(dbctx.Context{Ctx: ctx}.DB(s.db).Model(&types.CoordinateUsageDaily{}), q, targets).
		Where("coordinate IN ?", coordinates).
		Select("coordinate, SUM(count) AS total").
		Group("coordinate").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Coordinate] = r.Total
	}
	return out, nil
}

func (s *Store) Record(ctx context.Context, targetID uuid.UUID, clientName string, day time.Time, total int64, coordinates map[string]int64) error {
	day = Day(day)
	return dbctx.Context{Ctx: ctx}.DB(s.db).Transaction(func(tx *gorm.DB) error {
		op := types.OperationUsageDaily{TargetID: targetID, ClientName: clientName, Day: day, Count: total}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "target_id"}, {Name: "client_name"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("operation_usage_daily.count + excluded.count")}),
		}).Create(&op).Error; err != nil {
			return err
		}
		for coord, n := range coordinates {
			row := types.CoordinateUsageDaily{TargetID: targetID, Coordinate: coord, ClientName: clientName, Day: day, Count: n}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "target_id"}, {Name: "coordinate"}, {Name: "client_name"}, {Name: "day"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("coordinate_usage_daily.count + excluded.count")}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
