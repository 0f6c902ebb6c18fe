package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"epex-trade-report/internal/aggregator"
	"epex-trade-report/internal/database"
	"epex-trade-report/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockLedger is a mock implementation of the Ledger interface.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) TotalVolume(ctx context.Context, side string) (float64, error) {
	args := m.Called(side)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockLedger) PnL(ctx context.Context, strategyID string) (float64, error) {
	args := m.Called(strategyID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockLedger) Strategies(ctx context.Context) ([]string, error) {
	args := m.Called()
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockLedger) Summarize(ctx context.Context, strategyIDs []string) (*aggregator.Summary, error) {
	args := m.Called(strategyIDs)
	summary, _ := args.Get(0).(*aggregator.Summary)
	return summary, args.Error(1)
}

func serve(t *testing.T, ledger Ledger, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewAPIHandler(zap.NewNop(), ledger)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestVolumeHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("TotalVolume", "buy").Return(100.0, nil)

		rec := serve(t, ledger, http.MethodGet, "/api/volume?side=buy")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"side":"buy","volume":100}`, rec.Body.String())
		ledger.AssertExpectations(t)
	})

	t.Run("MissingSideSumsNothing", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("TotalVolume", "").Return(0.0, nil)

		rec := serve(t, ledger, http.MethodGet, "/api/volume")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"side":"","volume":0}`, rec.Body.String())
		ledger.AssertExpectations(t)
	})

	t.Run("LedgerError", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("TotalVolume", "sell").Return(0.0, aggregator.ErrLedgerUnavailable)

		rec := serve(t, ledger, http.MethodGet, "/api/volume?side=sell")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		ledger.AssertExpectations(t)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		ledger := new(MockLedger)

		rec := serve(t, ledger, http.MethodPost, "/api/volume?side=buy")

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
		ledger.AssertNotCalled(t, "TotalVolume", mock.Anything)
	})
}

func TestPnLHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("PnL", "strategy_1").Return(-1234.5, nil)

		rec := serve(t, ledger, http.MethodGet, "/api/pnl?strategy=strategy_1")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"strategy":"strategy_1","pnl":-1234.5}`, rec.Body.String())
		ledger.AssertExpectations(t)
	})

	t.Run("LedgerError", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("PnL", "strategy_1").Return(0.0, errors.New("disk I/O error"))

		rec := serve(t, ledger, http.MethodGet, "/api/pnl?strategy=strategy_1")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		ledger.AssertExpectations(t)
	})
}

func TestStrategiesHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Strategies").Return([]string{"", "strategy_1"}, nil)

		rec := serve(t, ledger, http.MethodGet, "/api/strategies")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"strategies":["","strategy_1"]}`, rec.Body.String())
		ledger.AssertExpectations(t)
	})

	t.Run("LedgerError", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Strategies").Return(nil, aggregator.ErrLedgerUnavailable)

		rec := serve(t, ledger, http.MethodGet, "/api/strategies")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		ledger.AssertExpectations(t)
	})
}

func TestSummaryHandler(t *testing.T) {
	t.Run("ExplicitStrategies", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Summarize", []string{"a", "b"}).Return(&aggregator.Summary{
			BuyVolume:  10,
			SellVolume: 4,
			Strategies: []aggregator.StrategyPnL{{Strategy: "a", PnL: 1}, {Strategy: "b", PnL: 2}},
		}, nil)

		rec := serve(t, ledger, http.MethodGet, "/api/summary?strategy=a&strategy=b")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"buy_volume":10,"sell_volume":4,"strategies":[{"strategy":"a","pnl":1},{"strategy":"b","pnl":2}]}`, rec.Body.String())
		ledger.AssertExpectations(t)
	})

	t.Run("LedgerError", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Summarize", []string(nil)).Return(nil, aggregator.ErrLedgerUnavailable)

		rec := serve(t, ledger, http.MethodGet, "/api/summary")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		ledger.AssertExpectations(t)
	})
}

func TestHealthHandler(t *testing.T) {
	rec := serve(t, new(MockLedger), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestHandlersOverRealLedger(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "trades.sqlite"))
	require.NoError(t, err)
	require.NoError(t, database.CreateLedger(db, models.DefaultLedgerTable))
	require.NoError(t, database.InsertTrades(db, models.DefaultLedgerTable, []models.Trade{
		{Side: models.SideSell, Quantity: 10, Price: 50, Strategy: "A"},
		{Side: models.SideBuy, Quantity: 4, Price: 50, Strategy: "A"},
	}))
	agg := aggregator.NewAggregator(db, models.DefaultLedgerTable, zap.NewNop())

	rec := serve(t, agg, http.MethodGet, "/api/pnl?strategy=A")
	require.Equal(t, http.StatusOK, rec.Code)

	var body PnLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, PnLResponse{Strategy: "A", PnL: 300}, body)

	// A row without a strategy is listed under the empty id.
	require.NoError(t, db.Exec(
		"INSERT INTO "+models.DefaultLedgerTable+" (side, quantity, price, strategy) VALUES ('sell', 1, 1, NULL)",
	).Error)

	rec = serve(t, agg, http.MethodGet, "/api/strategies")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"strategies":["","A"]}`, rec.Body.String())
}
