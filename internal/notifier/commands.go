package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"GridSentinel/internal/model"
	"GridSentinel/internal/strategy"
)

// Backend is what the command surface drives.
type Backend interface {
	ConfirmExecution(ctx context.Context, c model.Confirmation) (model.Asset, model.TransactionRecord, error)
	Assets(ctx context.Context) ([]model.Asset, error)
}

const helpText = "可用命令:\n" +
	"• /confirm &lt;代码&gt; &lt;buy|sell&gt; &lt;成交价&gt; &lt;新成本价&gt;\n" +
	"• /status 查看网格状态\n" +
	"• /help"

// NewCommandHandler returns the Telegram command handler for b.
func NewCommandHandler(b Backend) CommandHandler {
	return func(ctx context.Context, command string) string {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return helpText
		}
		// strip a @botname suffix used in group chats
		name, _, _ := strings.Cut(fields[0], "@")

		switch name {
		case "/confirm":
			return handleConfirm(ctx, b, fields[1:])
		case "/status":
			assets, err := b.Assets(ctx)
			if err != nil {
				return "❌ 读取资产失败: " + html.EscapeString(err.Error())
			}
			return FormatAssets(assets)
		default:
			return helpText
		}
	}
}

func handleConfirm(ctx context.Context, b Backend, args []string) string {
	if len(args) != 4 {
		return "❌ 格式: /confirm &lt;代码&gt; &lt;buy|sell&gt; &lt;成交价&gt; &lt;新成本价&gt;"
	}
	c, err := strategy.ParseConfirmation(args[0], args[1], args[2], args[3])
	if err != nil {
		return "❌ " + html.EscapeString(err.Error())
	}
	a, rec, err := b.ConfirmExecution(ctx, c)
	if err != nil {
		if errors.Is(err, strategy.ErrNotAwaiting) {
			return fmt.Sprintf("⚠️ %s 当前没有等待%s确认", html.EscapeString(c.Symbol), strings.ToLower(string(c.Side)))
		}
		return "❌ 确认失败: " + html.EscapeString(err.Error())
	}
	return FormatConfirmed(a, rec)
}
