package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"GridSentinel/internal/model"
	"GridSentinel/internal/strategy"
)

// Backend applies confirmations and lists assets.
type Backend interface {
	ConfirmExecution(ctx context.Context, c model.Confirmation) (model.Asset, model.TransactionRecord, error)
	Assets(ctx context.Context) ([]model.Asset, error)
}

const usage = `命令:
  buy <代码>    确认买入成交
  sell <代码>   确认卖出成交
  status        查看网格状态
  help`

// Console reads confirmations typed on a terminal.
type Console struct {
	backend Backend
	out     io.Writer
	lines   <-chan string
	log     zerolog.Logger
}

// NewConsole creates a Console reading from in. Lines are consumed by a
// background goroutine that exits when in reaches EOF.
func NewConsole(in io.Reader, out io.Writer, b Backend, log zerolog.Logger) *Console {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &Console{
		backend: b,
		out:     out,
		lines:   lines,
		log:     log.With().Str("component", "console").Logger(),
	}
}

// Run handles commands until ctx is cancelled or input ends.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, usage)
	for {
		c.prompt("> ")
		line, ok := c.readLine(ctx)
		if !ok {
			return ctx.Err()
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "buy", "sell":
			if len(fields) != 2 {
				fmt.Fprintln(c.out, "用法: buy|sell <代码>")
				continue
			}
			if !c.confirm(ctx, fields[0], fields[1]) {
				return ctx.Err()
			}
		case "status":
			c.status(ctx)
		default:
			fmt.Fprintln(c.out, usage)
		}
	}
}

// confirm prompts for the fill and submits it. It returns false when input
// ended mid-prompt.
func (c *Console) confirm(ctx context.Context, side, symbol string) bool {
	symbol = strings.ToUpper(symbol)
	op := "买入"
	if strings.EqualFold(side, "sell") {
		op = "卖出"
	}

	c.prompt(fmt.Sprintf("请输入 %s 的【实际%s价格】: ", symbol, op))
	actual, ok := c.readLine(ctx)
	if !ok {
		return false
	}
	c.prompt(fmt.Sprintf("请输入 %s 的【新的成本价】: ", symbol))
	cost, ok := c.readLine(ctx)
	if !ok {
		return false
	}

	conf, err := strategy.ParseConfirmation(symbol, side, actual, cost)
	if err != nil {
		fmt.Fprintf(c.out, "输入无效, %s 保持等待状态: %v\n", symbol, err)
		return true
	}
	a, rec, err := c.backend.ConfirmExecution(ctx, conf)
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("console confirmation rejected")
		switch {
		case errors.Is(err, strategy.ErrNotAwaiting):
			fmt.Fprintf(c.out, "%s 当前没有等待%s确认\n", symbol, op)
		default:
			fmt.Fprintf(c.out, "确认失败: %v\n", err)
		}
		return true
	}
	fmt.Fprintf(c.out, "%s %s已确认: 成交价 %s, 新成本价 %s, 新买入触发价 %s, 新卖出触发价 %s\n",
		a.Label(), op,
		rec.ActualPrice.StringFixed(2), a.CostPrice.StringFixed(2),
		a.BuyPriceAlert.StringFixed(2), a.SellPriceAlert.StringFixed(2))
	return true
}

func (c *Console) status(ctx context.Context) {
	assets, err := c.backend.Assets(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "读取资产失败: %v\n", err)
		return
	}
	for _, a := range assets {
		fmt.Fprintf(c.out, "%-20s %-14s 成本 %s 买 %s 卖 %s\n",
			a.Label(), a.Mode, a.CostPrice.StringFixed(2),
			a.BuyPriceAlert.StringFixed(2), a.SellPriceAlert.StringFixed(2))
	}
}

func (c *Console) prompt(s string) {
	fmt.Fprint(c.out, s)
}

func (c *Console) readLine(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-c.lines:
		return strings.TrimSpace(line), ok
	}
}
