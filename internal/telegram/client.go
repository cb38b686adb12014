// Package telegram sends crowd anomaly notifications through the Telegram Bot
// API and answers /status and /backtest commands from the configured chat.
//
// Messages use MarkdownV2; every dynamic fragment is escaped before it is
// embedded. Delivery is retried with a linear backoff.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/report"
)

// sender is the part of the bot used for delivery.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	send           sender
	chatID         int64
	area           string
	loc            *time.Location
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c, err := newClient(bot, chatID, maxRetries, retryDelayBase)
	if err != nil {
		return nil, err
	}
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		send:           s,
		chatID:         chatIDInt,
		area:           "City",
		loc:            time.Local,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SetArea sets the area name and wall clock used in messages.
func (c *Client) SetArea(name string, loc *time.Location) {
	if name != "" {
		c.area = name
	}
	if loc != nil {
		c.loc = loc
	}
}

// SendAlert announces a sustained city anomaly.
func (c *Client) SendAlert(res *monitor.Result) error {
	return c.sendText(c.formatAlert(res))
}

// SendError reports a failed detection cycle.
func (c *Client) SendError(err error) error {
	msg := fmt.Sprintf("⚠️ *Detection cycle failed*\n\n%s", escapeMarkdownV2(err.Error()))
	return c.sendText(msg)
}

// SendRecovery reports that cycles succeed again after failures.
func (c *Client) SendRecovery(failures int) error {
	msg := fmt.Sprintf("✅ *Detection recovered* after %d failed cycle\\(s\\)", failures)
	return c.sendText(msg)
}

func (c *Client) sendText(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.send.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatAlert formats a result into an alert message
func (c *Client) formatAlert(res *monitor.Result) string {
	city := res.City
	var b strings.Builder

	fmt.Fprintf(&b, "🚨 *%s: %s*\n\n", escapeMarkdownV2(c.area), escapeMarkdownV2(report.StatusLabel(city)))
	fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(city.Timestamp.In(c.loc).Format("2006-01-02 15:04")))
	fmt.Fprintf(&b, "Score *%s* · Pressure %s · Rush %s · z %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.0f", city.Score)),
		escapeMarkdownV2(fmt.Sprintf("%.1f", city.CityPressure)),
		escapeMarkdownV2(fmt.Sprintf("%.0f%%", city.AnomalousShare*100)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", city.CityZ)),
	)
	fmt.Fprintf(&b, "🧭 %s: %s\n", escapeMarkdownV2(res.Archetype.Label), escapeMarkdownV2(res.Archetype.Hint))
	fmt.Fprintf(&b, "🎯 Confidence %s\n\n", escapeMarkdownV2(fmt.Sprintf("%d%%", res.Confidence.Value)))

	for i, e := range report.TopByZ(res.Entities, 5) {
		fmt.Fprintf(&b, "%d\\. %s · %s · z %s\n",
			i+1,
			escapeMarkdownV2(e.Name),
			escapeMarkdownV2(string(e.Signal)),
			escapeMarkdownV2(fmt.Sprintf("%.2f", e.ZScore)),
		)
	}
	if res.Fallback {
		b.WriteString("\n_Demo panel in use_\n")
	}
	return b.String()
}

// formatStatus formats the latest result for /status.
func (c *Client) formatStatus(res *monitor.Result, ok bool, now time.Time) string {
	if !ok {
		return escapeMarkdownV2("No snapshot yet. First poll is running.")
	}
	city := res.City
	return fmt.Sprintf("*%s*\n%s\n%s\n%s",
		escapeMarkdownV2(report.StatusLabel(city)),
		escapeMarkdownV2(report.ShareSummary(c.area, city, c.loc)),
		escapeMarkdownV2("Why now: "+report.WhyNow(res.Snapshot)),
		escapeMarkdownV2(fmt.Sprintf("%s, confidence %d%%, updated %s ago",
			res.Archetype.Label, res.Confidence.Value, formatDuration(now.Sub(city.Timestamp)))),
	)
}

// formatBacktest formats a replay for /backtest.
func formatBacktest(r monitor.BacktestReport, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(escapeMarkdownV2(report.BacktestSummary(r)))
	b.WriteString("\n")
	for _, row := range r.Rows {
		verdict := "No alert"
		if row.WouldAlert {
			verdict = "Would alert"
		}
		line := fmt.Sprintf("%s  %.1f  %s", row.Timestamp.In(loc).Format("01-02 15:04"), row.Score, verdict)
		b.WriteString("\n" + escapeMarkdownV2(line))
	}
	return b.String()
}

// Session is what the command listener reads from.
type Session interface {
	Last() (*monitor.Result, bool)
	Backtest(lookbackHours int, now time.Time) monitor.BacktestReport
}

// ListenForCommands answers /status and /backtest [hours] from the
// configured chat until ctx is done. It returns immediately; updates are
// consumed on a goroutine.
func (c *Client) ListenForCommands(ctx context.Context, s Session) {
	if c.bot == nil {
		return
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		defer c.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || !update.Message.IsCommand() {
					continue
				}
				if update.Message.Chat.ID != c.chatID {
					logger.Debug("Ignoring command from chat %d", update.Message.Chat.ID)
					continue
				}
				reply, handled := c.handleCommand(update.Message.Command(), update.Message.CommandArguments(), s, time.Now())
				if !handled {
					continue
				}
				if err := c.sendText(reply); err != nil {
					logger.Warn("Failed to answer /%s: %v", update.Message.Command(), err)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(cmd, args string, s Session, now time.Time) (string, bool) {
	switch cmd {
	case "status":
		res, ok := s.Last()
		return c.formatStatus(res, ok, now), true
	case "backtest":
		hours := monitor.DefaultLookbackHours
		if v, err := strconv.Atoi(strings.TrimSpace(args)); err == nil {
			hours = v
		}
		return formatBacktest(s.Backtest(hours, now), c.loc), true
	default:
		return "", false
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteString("\\" + string(char))
		default:
			b.WriteRune(char)
		}
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
