package notifier

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"GridSentinel/internal/model"
)

func formatValue(v *float64, unit string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%s", *v, unit)
}

func formatProfit(p float64) string {
	if math.IsInf(p, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f%%", p)
}

func price(d decimal.Decimal) string { return d.StringFixed(2) }

func label(c model.AssetConfig) string { return html.EscapeString(c.Label()) }

// FormatStatusLine renders one cycle's observation of an asset as plain text.
func FormatStatusLine(ev model.Event) string {
	var yield *float64
	if ev.Sample.DividendYield != nil {
		y := *ev.Sample.DividendYield * 100
		yield = &y
	}
	return fmt.Sprintf("%s: 当前价 %s | 10年分位: %s | PE: %s | 股息率: %s | 买: %s | 卖: %s",
		ev.Asset.Label(),
		price(ev.Sample.Price),
		formatValue(ev.Sample.Percentile, "%"),
		formatValue(ev.Sample.TrailingPE, ""),
		formatValue(yield, "%"),
		price(ev.BuyLevel),
		price(ev.SellLevel))
}

// FormatWaiting renders the line logged for a suspended asset.
func FormatWaiting(ev model.Event) string {
	op := "买入"
	if ev.Waiting == model.SideSell {
		op = "卖出"
	}
	return fmt.Sprintf("%s: 等待【%s】操作完成 (触发价: %s)", ev.Asset.Label(), op, price(ev.Trigger))
}

// FormatAlert renders a buy or sell alert for Telegram. autoAdvance marks
// alerts whose level already moved without confirmation.
func FormatAlert(ev model.Event, autoAdvance bool) string {
	var b strings.Builder
	sym := html.EscapeString(ev.Asset.TickerSymbol)

	switch ev.Type {
	case model.EventBuyAlert:
		b.WriteString("🟢 <b>买入提醒</b>\n\n")
		b.WriteString(fmt.Sprintf("ETF %s 当前价 %s &lt;= 触发价 %s\n", label(ev.Asset), price(ev.Sample.Price), price(ev.Trigger)))
		if autoAdvance {
			b.WriteString(fmt.Sprintf("下一买入触发价: %s\n", price(ev.BuyLevel)))
		} else {
			b.WriteString(fmt.Sprintf("\n成交后请确认:\n<code>/confirm %s buy &lt;成交价&gt; &lt;新成本价&gt;</code>\n", sym))
		}
	case model.EventSellAlert:
		b.WriteString("🔴 <b>卖出提醒</b>\n\n")
		b.WriteString(fmt.Sprintf("ETF %s 当前价 %s &gt;= 触发价 %s (盈利: %s)\n",
			label(ev.Asset), price(ev.Sample.Price), price(ev.Trigger), formatProfit(ev.ProfitPct)))
		if autoAdvance {
			b.WriteString(fmt.Sprintf("下一卖出触发价: %s\n", price(ev.SellLevel)))
		} else {
			b.WriteString(fmt.Sprintf("\n成交后请确认:\n<code>/confirm %s sell &lt;成交价&gt; &lt;新成本价&gt;</code>\n", sym))
		}
	default:
		return ""
	}
	b.WriteString(fmt.Sprintf("10年分位: %s | PE: %s", formatValue(ev.Sample.Percentile, "%"), formatValue(ev.Sample.TrailingPE, "")))
	return b.String()
}

// FormatConfirmed renders the reply to an accepted confirmation.
func FormatConfirmed(a model.Asset, rec model.TransactionRecord) string {
	op := "买入"
	if rec.Side == model.SideSell {
		op = "卖出"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ <b>%s已确认</b> | %s\n\n", op, label(a.AssetConfig)))
	b.WriteString(fmt.Sprintf("触发价: %s | 成交价: %s\n", price(rec.TriggerPrice), price(rec.ActualPrice)))
	b.WriteString(fmt.Sprintf("新成本价: %s\n", price(a.CostPrice)))
	b.WriteString(fmt.Sprintf("新买入触发价: %s\n", price(a.BuyPriceAlert)))
	b.WriteString(fmt.Sprintf("新卖出触发价: %s", price(a.SellPriceAlert)))
	return b.String()
}

func modeLabel(m model.Mode) string {
	switch m {
	case model.ModeAwaitingBuy:
		return "⏳ 等待买入确认"
	case model.ModeAwaitingSell:
		return "⏳ 等待卖出确认"
	}
	return "监控中"
}

// FormatAssets renders every asset's levels for a status query.
func FormatAssets(assets []model.Asset) string {
	if len(assets) == 0 {
		return "📭 没有配置任何资产"
	}
	var b strings.Builder
	b.WriteString("📋 <b>网格状态</b>\n")
	for _, a := range assets {
		b.WriteString(fmt.Sprintf("\n<b>%s</b>", label(a.AssetConfig)))
		if !a.Enabled {
			b.WriteString(" (已停用)")
		}
		b.WriteString(fmt.Sprintf("\n  %s | 成本: %s\n  买: %s | 卖: %s\n",
			modeLabel(a.Mode), price(a.CostPrice), price(a.BuyPriceAlert), price(a.SellPriceAlert)))
	}
	return b.String()
}
