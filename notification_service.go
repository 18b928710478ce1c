package main

import (
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// NotificationService sends trading alerts to Telegram. A nil service is
// safe to skip at every call site, so the bot is fully optional.
type NotificationService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewNotificationService initializes the Telegram bot. Returns nil when the
// token is absent or authentication fails, which disables notifications.
func NewNotificationService(botToken, chatID string) *NotificationService {
	if botToken == "" {
		log.Println("⚠️ Telegram bot token not configured. Notifications disabled.")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		log.Printf("⚠️ Failed to init Telegram bot: %v", err)
		return nil
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		log.Println("⚠️ Telegram chat id missing or invalid. Notifications disabled.")
		return nil
	}

	log.Printf("✅ Telegram notifier authorized as %s", bot.Self.UserName)
	return &NotificationService{bot: bot, chatID: id}
}

func (n *NotificationService) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		log.Printf("⚠️ Telegram send failed: %v", err)
	}
}

func (n *NotificationService) NotifyStart() {
	n.send("🤖 *Momentum engine started*\nScanning for short-horizon momentum entries.")
}

func (n *NotificationService) NotifyEntry(symbol string, price, stopLoss, target, size float64) {
	n.send(fmt.Sprintf(
		"📈 *POSITION OPENED*\nSymbol: *%s*\nEntry: $%.6f\nSize: %.6f\nStop: $%.6f\nTarget: $%.6f",
		symbol, price, size, stopLoss, target))
}

func (n *NotificationService) NotifyExit(symbol string, exitPrice, entryPrice, size float64, reason string) {
	profitPct := 0.0
	if entryPrice > 0 {
		profitPct = (exitPrice/entryPrice - 1) * 100
	}
	emoji := "✅"
	if profitPct < 0 {
		emoji = "❌"
	}
	n.send(fmt.Sprintf(
		"%s *POSITION %s*\nSymbol: *%s*\nExit: $%.6f\nSize: %.6f\nP&L: %+.2f%%",
		emoji, reasonLabel(reason), symbol, exitPrice, size, profitPct))
}

func reasonLabel(reason string) string {
	switch reason {
	case "take_profit", "take_profit_1", "take_profit_2", "take_profit_3":
		return "SCALED OUT"
	case "stop_loss":
		return "STOPPED"
	case "time_stop":
		return "TIME-STOPPED"
	}
	return "CLOSED"
}

func (n *NotificationService) NotifyDailyReport(metrics PerformanceMetrics, openPositions int) {
	emoji := "📊"
	if metrics.NetProfit > 0 {
		emoji = "💰"
	} else if metrics.NetProfit < 0 {
		emoji = "📉"
	}
	n.send(fmt.Sprintf(
		"%s *Daily Report*\nOpen positions: %d\nTotal trades: %d\nWin rate: %.1f%%\nNet profit: $%.2f",
		emoji, openPositions, metrics.TotalTrades, metrics.WinRate, metrics.NetProfit))
}

func (n *NotificationService) NotifyError(message string) {
	n.send(fmt.Sprintf("⚠️ *Error*\n%s", message))
}
