package confirm

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"GridSentinel/internal/model"
	"GridSentinel/internal/strategy"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ConfirmExecution(ctx context.Context, c model.Confirmation) (model.Asset, model.TransactionRecord, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(model.Asset), args.Get(1).(model.TransactionRecord), args.Error(2)
}

func (m *mockBackend) Assets(ctx context.Context) ([]model.Asset, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Asset), args.Error(1)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func run(t *testing.T, b Backend, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(input), &out, b, zerolog.Nop())
	require.NoError(t, c.Run(context.Background()))
	return out.String()
}

func TestConsole_ConfirmBuy(t *testing.T) {
	b := &mockBackend{}
	want := model.Confirmation{Symbol: "510300.SS", Side: model.SideBuy, ActualPrice: d("98"), NewCostPrice: d("104")}
	result := model.Asset{
		AssetConfig: model.AssetConfig{TickerSymbol: "510300.SS"},
		AssetState:  model.AssetState{BuyPriceAlert: d("93.1"), SellPriceAlert: d("119.6"), CostPrice: d("104")},
	}
	b.On("ConfirmExecution", mock.Anything, mock.MatchedBy(func(c model.Confirmation) bool {
		return c.Symbol == want.Symbol && c.Side == want.Side &&
			c.ActualPrice.Equal(want.ActualPrice) && c.NewCostPrice.Equal(want.NewCostPrice)
	})).Return(result, model.TransactionRecord{ActualPrice: d("98")}, nil).Once()

	out := run(t, b, "buy 510300.ss\n98\n104\n")

	b.AssertExpectations(t)
	assert.Contains(t, out, "实际买入价格")
	assert.Contains(t, out, "新买入触发价 93.10")
	assert.Contains(t, out, "新卖出触发价 119.60")
}

func TestConsole_InvalidNumberIsNotSubmitted(t *testing.T) {
	b := &mockBackend{}

	out := run(t, b, "sell SPY\nabc\n100\n")

	b.AssertNotCalled(t, "ConfirmExecution", mock.Anything, mock.Anything)
	assert.Contains(t, out, "输入无效")
}

func TestConsole_NotAwaiting(t *testing.T) {
	b := &mockBackend{}
	b.On("ConfirmExecution", mock.Anything, mock.Anything).
		Return(model.Asset{}, model.TransactionRecord{}, strategy.ErrNotAwaiting)

	out := run(t, b, "sell SPY\n410\n400\n")

	assert.Contains(t, out, "SPY 当前没有等待卖出确认")
}

func TestConsole_Status(t *testing.T) {
	b := &mockBackend{}
	b.On("Assets", mock.Anything).Return([]model.Asset{{
		AssetConfig: model.AssetConfig{TickerSymbol: "SPY", Remark: "S&P"},
		AssetState:  model.AssetState{Mode: model.ModeAwaitingBuy, BuyPriceAlert: d("380"), SellPriceAlert: d("460")},
	}}, nil)

	out := run(t, b, "status\n")

	assert.Contains(t, out, "S&P(SPY)")
	assert.Contains(t, out, "AWAITING_BUY")
	assert.Contains(t, out, "买 380.00")
}

func TestConsole_UsageAndEOF(t *testing.T) {
	b := &mockBackend{}

	out := run(t, b, "hello\nbuy\nbuy X\n5\n")

	assert.Contains(t, out, "用法: buy|sell <代码>")
	b.AssertNotCalled(t, "ConfirmExecution", mock.Anything, mock.Anything)
}

func TestConsole_StopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsole(r, &bytes.Buffer{}, &mockBackend{}, zerolog.Nop())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}
