package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"GridSentinel/internal/model"
	"GridSentinel/internal/strategy"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestNotifier(url string) *TelegramNotifier {
	t := NewTelegramNotifier("TOKEN", "42", "", zerolog.Nop())
	t.APIURL = url
	return t
}

func TestSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	require.NoError(t, newTestNotifier(srv.URL).Send(context.Background(), "<b>hi</b>"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>hi</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestSendWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	require.NoError(t, newTestNotifier(srv.URL).SendWithRetry(context.Background(), "x", 2))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendWithRetry_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestNotifier(srv.URL).SendWithRetry(context.Background(), "x", 0)
	assert.ErrorContains(t, err, "status 401")
}

func TestStartPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var replies []string
	var served atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if served.CompareAndSwap(false, true) {
				fmt.Fprint(w, `{"ok":true,"result":[
					{"update_id":7,"message":{"text":"/status","chat":{"id":99}}},
					{"update_id":8,"message":{"text":" /help ","chat":{"id":42}}}
				]}`)
				return
			}
			assert.Equal(t, "9", r.URL.Query().Get("offset"))
			time.Sleep(10 * time.Millisecond)
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			replies = append(replies, body["text"])
			mu.Unlock()
			fmt.Fprint(w, `{"ok":true}`)
			cancel()
		}
	}))
	defer srv.Close()

	var commands []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		newTestNotifier(srv.URL).StartPolling(ctx, func(_ context.Context, cmd string) string {
			commands = append(commands, cmd)
			return "reply to " + cmd
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not stop")
	}

	assert.Equal(t, []string{"/help"}, commands, "other chats are ignored")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reply to /help"}, replies)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ConfirmExecution(ctx context.Context, c model.Confirmation) (model.Asset, model.TransactionRecord, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(model.Asset), args.Get(1).(model.TransactionRecord), args.Error(2)
}

func (m *mockBackend) Assets(ctx context.Context) ([]model.Asset, error) {
	args := m.Called(ctx)
	assets, _ := args.Get(0).([]model.Asset)
	return assets, args.Error(1)
}

func testAsset() model.Asset {
	return model.Asset{
		AssetConfig: model.AssetConfig{TickerSymbol: "510300.SS", Remark: "CSI300", Enabled: true},
		AssetState: model.AssetState{
			BuyPriceAlert:  d("93.1"),
			SellPriceAlert: d("115"),
			CostPrice:      d("100"),
			Mode:           model.ModeMonitoring,
		},
	}
}

func TestCommandHandler_Confirm(t *testing.T) {
	b := new(mockBackend)
	want := model.Confirmation{Symbol: "510300.SS", Side: model.SideBuy, ActualPrice: d("98"), NewCostPrice: d("100")}
	rec := model.TransactionRecord{Side: model.SideBuy, TriggerPrice: d("100"), ActualPrice: d("98")}
	b.On("ConfirmExecution", mock.Anything, want).Return(testAsset(), rec, nil).Once()

	reply := NewCommandHandler(b)(context.Background(), "/confirm 510300.ss buy 98 100")

	b.AssertExpectations(t)
	assert.Contains(t, reply, "买入已确认")
	assert.Contains(t, reply, "93.10")
	assert.Contains(t, reply, "115.00")
}

func TestCommandHandler_ConfirmRejected(t *testing.T) {
	b := new(mockBackend)
	b.On("ConfirmExecution", mock.Anything, mock.Anything).
		Return(model.Asset{}, model.TransactionRecord{}, fmt.Errorf("wrap: %w", strategy.ErrNotAwaiting)).Once()
	h := NewCommandHandler(b)

	assert.Contains(t, h(context.Background(), "/confirm SPY sell 1 1"), "没有等待sell确认")
	assert.Contains(t, h(context.Background(), "/confirm SPY buy abc 1"), "not a number")
	assert.Contains(t, h(context.Background(), "/confirm SPY buy"), "格式")
	b.AssertNumberOfCalls(t, "ConfirmExecution", 1)
}

func TestCommandHandler_Status(t *testing.T) {
	b := new(mockBackend)
	waiting := testAsset()
	waiting.TickerSymbol = "SPY"
	waiting.Remark = ""
	waiting.Mode = model.ModeAwaitingSell
	b.On("Assets", mock.Anything).Return([]model.Asset{testAsset(), waiting}, nil).Once()

	reply := NewCommandHandler(b)(context.Background(), "/status@grid_bot")

	assert.Contains(t, reply, "CSI300(510300.SS)")
	assert.Contains(t, reply, "<b>SPY</b>")
	assert.Contains(t, reply, "等待卖出确认")
}

func TestCommandHandler_StatusError(t *testing.T) {
	b := new(mockBackend)
	b.On("Assets", mock.Anything).Return(nil, errors.New("asset configuration unavailable")).Once()

	reply := NewCommandHandler(b)(context.Background(), "/status")
	assert.Contains(t, reply, "读取资产失败")
}

func TestCommandHandler_Help(t *testing.T) {
	h := NewCommandHandler(new(mockBackend))
	assert.Contains(t, h(context.Background(), "hello"), "/confirm")
	assert.Contains(t, h(context.Background(), ""), "/status")
}

func TestFormatStatusLine(t *testing.T) {
	pct, pe, dy := 35.5, 12.34, 0.0215
	ev := model.Event{
		Type:      model.EventStatus,
		Asset:     testAsset().AssetConfig,
		Sample:    model.Sample{Quote: model.Quote{Price: d("101.5"), TrailingPE: &pe, DividendYield: &dy}, Percentile: &pct},
		BuyLevel:  d("93.1"),
		SellLevel: d("115"),
	}
	assert.Equal(t,
		"CSI300(510300.SS): 当前价 101.50 | 10年分位: 35.50% | PE: 12.34 | 股息率: 2.15% | 买: 93.10 | 卖: 115.00",
		FormatStatusLine(ev))

	ev.Sample = model.Sample{Quote: model.Quote{Price: d("101.5")}}
	assert.Contains(t, FormatStatusLine(ev), "10年分位: N/A | PE: N/A | 股息率: N/A")
}

func TestFormatAlert(t *testing.T) {
	a := testAsset().AssetConfig
	buy := model.Event{Type: model.EventBuyAlert, Asset: a, Sample: model.Sample{Quote: model.Quote{Price: d("95")}},
		Trigger: d("100"), BuyLevel: d("96")}

	msg := FormatAlert(buy, false)
	assert.Contains(t, msg, "买入提醒")
	assert.Contains(t, msg, "当前价 95.00 &lt;= 触发价 100.00")
	assert.Contains(t, msg, "/confirm 510300.SS buy")

	msg = FormatAlert(buy, true)
	assert.Contains(t, msg, "下一买入触发价: 96.00")
	assert.NotContains(t, msg, "/confirm")

	sell := model.Event{Type: model.EventSellAlert, Asset: a, Sample: model.Sample{Quote: model.Quote{Price: d("121")}},
		Trigger: d("120"), ProfitPct: math.Inf(1)}
	assert.Contains(t, FormatAlert(sell, false), "盈利: ∞")

	assert.Empty(t, FormatAlert(model.Event{Type: model.EventStatus}, false))
}

func TestFormatWaiting(t *testing.T) {
	ev := model.Event{Type: model.EventWaiting, Asset: testAsset().AssetConfig, Waiting: model.SideSell, Trigger: d("120")}
	assert.Equal(t, "CSI300(510300.SS): 等待【卖出】操作完成 (触发价: 120.00)", FormatWaiting(ev))
}
