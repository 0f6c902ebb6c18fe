package aggregator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"epex-trade-report/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrLedgerUnavailable wraps every storage failure: missing file, missing
// table, corrupt database. Callers treat it as fatal.
var ErrLedgerUnavailable = errors.New("trade ledger unavailable")

const (
	volumeExpr = "COALESCE(SUM(quantity), 0)"

	// Sells bring cash in, buys pay it out; any other side contributes nothing.
	pnlExpr = "COALESCE(SUM(CASE WHEN side = ? THEN quantity * price WHEN side = ? THEN -quantity * price ELSE 0 END), 0)"

	// A NULL strategy is reported as the empty id.
	strategyExpr = "COALESCE(strategy, '')"
)

// StrategyPnL is the net cash value of one strategy's trades.
type StrategyPnL struct {
	Strategy string  `gorm:"column:strategy" json:"strategy"`
	PnL      float64 `gorm:"column:pnl" json:"pnl"`
}

// Summary is the full report: volume per side plus PnL per strategy.
type Summary struct {
	BuyVolume  float64       `json:"buy_volume"`
	SellVolume float64       `json:"sell_volume"`
	Strategies []StrategyPnL `json:"strategies"`
}

// Aggregator computes volume and PnL figures over a trade ledger table.
// All sums are done by the database; no rows are loaded into memory.
type Aggregator struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// NewAggregator creates an Aggregator reading from table.
func NewAggregator(db *gorm.DB, table string, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		db:     db,
		table:  table,
		logger: logger.Named("aggregator"),
	}
}

// TotalVolume returns the summed quantity (MW) of all trades on side.
// A side that matches no rows, including any value other than "buy" or
// "sell", yields 0.
func (a *Aggregator) TotalVolume(ctx context.Context, side string) (float64, error) {
	total, err := a.scalar(ctx, func(conn *gorm.DB) *gorm.DB {
		return conn.Select(volumeExpr).Where("side = ?", side)
	})
	if err != nil {
		return 0, fmt.Errorf("total volume for side %q: %w", side, err)
	}
	a.logger.Debug("Computed total volume", zap.String("side", side), zap.Float64("volume", total))
	return total, nil
}

// TotalBuyVolume is TotalVolume for the buy side.
func (a *Aggregator) TotalBuyVolume(ctx context.Context) (float64, error) {
	return a.TotalVolume(ctx, models.SideBuy)
}

// TotalSellVolume is TotalVolume for the sell side.
func (a *Aggregator) TotalSellVolume(ctx context.Context) (float64, error) {
	return a.TotalVolume(ctx, models.SideSell)
}

// PnL returns the profit and loss of a strategy: sells count +quantity*price,
// buys -quantity*price. A strategy with no trades yields 0, the same as a
// fully hedged one. Rows with a NULL strategy belong to the "" strategy.
func (a *Aggregator) PnL(ctx context.Context, strategyID string) (float64, error) {
	pnl, err := a.scalar(ctx, func(conn *gorm.DB) *gorm.DB {
		return conn.Select(pnlExpr, models.SideSell, models.SideBuy).Where(strategyExpr+" = ?", strategyID)
	})
	if err != nil {
		return 0, fmt.Errorf("pnl for strategy %q: %w", strategyID, err)
	}
	a.logger.Debug("Computed PnL", zap.String("strategy", strategyID), zap.Float64("pnl", pnl))
	return pnl, nil
}

// Strategies lists the distinct strategy ids in the ledger, sorted.
// Rows without a strategy show up as "", matching PnLByStrategy.
func (a *Aggregator) Strategies(ctx context.Context) ([]string, error) {
	var ids []string
	err := a.withConn(ctx, func(conn *gorm.DB) error {
		return conn.Table(a.table).
			Select("DISTINCT " + strategyExpr + " AS strategy").
			Order("strategy").
			Pluck("strategy", &ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// PnLByStrategy computes every strategy's PnL in a single grouped query.
func (a *Aggregator) PnLByStrategy(ctx context.Context) ([]StrategyPnL, error) {
	var rows []StrategyPnL
	err := a.withConn(ctx, func(conn *gorm.DB) error {
		return conn.Table(a.table).
			Select(strategyExpr+" AS strategy, "+pnlExpr+" AS pnl", models.SideSell, models.SideBuy).
			Group(strategyExpr).
			Order("strategy").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("pnl by strategy: %w", err)
	}
	if rows == nil {
		rows = []StrategyPnL{}
	}
	return rows, nil
}

// Summarize builds the report for the given strategies. With no strategy ids
// it reports every strategy present in the ledger.
func (a *Aggregator) Summarize(ctx context.Context, strategyIDs []string) (*Summary, error) {
	buy, err := a.TotalBuyVolume(ctx)
	if err != nil {
		return nil, err
	}
	sell, err := a.TotalSellVolume(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{BuyVolume: buy, SellVolume: sell}

	if len(strategyIDs) == 0 {
		summary.Strategies, err = a.PnLByStrategy(ctx)
		if err != nil {
			return nil, err
		}
		return summary, nil
	}

	summary.Strategies = make([]StrategyPnL, 0, len(strategyIDs))
	for _, id := range strategyIDs {
		pnl, err := a.PnL(ctx, id)
		if err != nil {
			return nil, err
		}
		summary.Strategies = append(summary.Strategies, StrategyPnL{Strategy: id, PnL: pnl})
	}
	return summary, nil
}

// scalar runs a single-value aggregation over the ledger table. NULL maps to 0.
func (a *Aggregator) scalar(ctx context.Context, build func(conn *gorm.DB) *gorm.DB) (float64, error) {
	var total sql.NullFloat64
	err := a.withConn(ctx, func(conn *gorm.DB) error {
		return build(conn.Table(a.table)).Row().Scan(&total)
	})
	if err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Float64, nil
}

// withConn checks out a dedicated connection for fn and always returns it to
// the pool, whether fn succeeds or not. A cancelled or expired ctx is returned
// as is; it says nothing about the ledger.
func (a *Aggregator) withConn(ctx context.Context, fn func(conn *gorm.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.db.WithContext(ctx).Connection(fn); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		a.logger.Error("Ledger query failed", zap.String("table", a.table), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}
