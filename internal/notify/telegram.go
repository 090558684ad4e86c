// Package notify adapts notification_service.go's Telegram bot to the
// scanner's domain: opportunity alerts, trade-outcome pushes, and the
// /status, /stop, /report command set wired to the risk manager and
// journal instead of the teacher's Signal/GhostSession plumbing.
package notify

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"whale-radar/internal/model"
)

const chatIDFile = "chat_id.txt"

// Service mirrors NotificationService's shape: one bot, one operator
// chat, a pending-approval map keyed by a generated id.
type Service struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	pending sync.Map // id -> model.ArbitrageOpportunity or model.TriangularOpportunity
}

// New returns nil if no bot token is configured — callers must nil-check
// before registering callbacks, matching the teacher's own optionality.
func New(token, chatIDEnv string) *Service {
	if token == "" {
		log.Println("⚠️ TELEGRAM_BOT_TOKEN not set. Notifications disabled.")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("⚠️ Failed to init Telegram bot: %v", err)
		return nil
	}
	log.Printf("✅ Authorized on account %s", bot.Self.UserName)

	svc := &Service{bot: bot}

	var chatID int64
	if chatIDEnv != "" {
		chatID, _ = strconv.ParseInt(chatIDEnv, 10, 64)
	}
	if chatID == 0 {
		chatID = svc.loadChatID()
	}
	svc.chatID = chatID
	if chatID != 0 {
		log.Printf("✅ Loaded persistent chat id: %d", chatID)
	}
	return svc
}

func (s *Service) loadChatID() int64 {
	data, err := os.ReadFile(chatIDFile)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s *Service) saveChatID(id int64) {
	if err := os.WriteFile(chatIDFile, []byte(fmt.Sprintf("%d", id)), 0o644); err != nil {
		log.Printf("⚠️ Failed to save chat id: %v", err)
		return
	}
	log.Println("💾 Chat id saved persistently.")
}

// Callbacks groups the command handlers StartEventListener dispatches to.
type Callbacks struct {
	Status          func() string
	Report          func() string
	Stop            func()
	ApproveCrossVenue  func(model.ArbitrageOpportunity)
	ApproveTriangular  func(model.TriangularOpportunity)
}

// StartEventListener blocks, polling Telegram's long-poll update channel
// until the process exits. Run it in its own goroutine.
func (s *Service) StartEventListener(cb Callbacks) {
	if s == nil || s.bot == nil {
		return
	}
	log.Println("📢 telegram: listening for events...")
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.bot.GetUpdatesChan(u)

	for update := range updates {
		if update.CallbackQuery != nil {
			s.handleCallback(update.CallbackQuery, cb)
			continue
		}
		if update.Message == nil {
			continue
		}
		if s.chatID == 0 {
			s.chatID = update.Message.Chat.ID
			s.Notify("🔔 Bot connected! Notifications enabled.")
		}
		if !update.Message.IsCommand() {
			continue
		}
		switch update.Message.Command() {
		case "status":
			if cb.Status != nil {
				s.Notify(cb.Status())
			}
		case "start":
			if s.chatID == 0 || s.chatID != update.Message.Chat.ID {
				s.chatID = update.Message.Chat.ID
				s.saveChatID(s.chatID)
			}
			s.Notify("🚀 *Connection established!* Monitoring arbitrage opportunities.")
		case "stop":
			s.Notify("🛑 *EMERGENCY STOP TRIGGERED*\nHalting new trade approvals.")
			if cb.Stop != nil {
				cb.Stop()
			}
		case "report":
			if cb.Report != nil {
				s.Notify(cb.Report())
			}
		}
	}
}

func (s *Service) handleCallback(cq *tgbotapi.CallbackQuery, cb Callbacks) {
	data := cq.Data
	switch {
	case strings.HasPrefix(data, "EXECCV_"):
		id := strings.TrimPrefix(data, "EXECCV_")
		if val, ok := s.pending.Load(id); ok {
			s.bot.Send(tgbotapi.NewCallback(cq.ID, "🚀 Executing..."))
			if opp, ok := val.(model.ArbitrageOpportunity); ok && cb.ApproveCrossVenue != nil {
				cb.ApproveCrossVenue(opp)
			}
			s.pending.Delete(id)
		} else {
			s.bot.Send(tgbotapi.NewCallback(cq.ID, "⚠️ Expired"))
		}
	case strings.HasPrefix(data, "EXECTRI_"):
		id := strings.TrimPrefix(data, "EXECTRI_")
		if val, ok := s.pending.Load(id); ok {
			s.bot.Send(tgbotapi.NewCallback(cq.ID, "🚀 Executing..."))
			if opp, ok := val.(model.TriangularOpportunity); ok && cb.ApproveTriangular != nil {
				cb.ApproveTriangular(opp)
			}
			s.pending.Delete(id)
		} else {
			s.bot.Send(tgbotapi.NewCallback(cq.ID, "⚠️ Expired"))
		}
	case strings.HasPrefix(data, "DISCARD_"):
		id := strings.TrimPrefix(data, "DISCARD_")
		s.bot.Send(tgbotapi.NewCallback(cq.ID, "🗑️ Discarded"))
		s.pending.Delete(id)
		del := tgbotapi.NewDeleteMessage(cq.Message.Chat.ID, cq.Message.MessageID)
		s.bot.Send(del)
	}
}

// AlertCrossVenue posts an interactive approval request for manual-approval
// mode, mirroring SendApprovalRequest's button layout.
func (s *Service) AlertCrossVenue(opp model.ArbitrageOpportunity) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	id := fmt.Sprintf("%d", time.Now().UnixNano())
	s.pending.Store(id, opp)

	text := fmt.Sprintf("🔔 *CROSS-VENUE OPPORTUNITY*\n\n*Pair:* %s\n*Buy:* %s @ %s\n*Sell:* %s @ %s\n*Net Profit:* %s%%\n*Size:* %s\n*Confidence:* %.1f",
		opp.Symbol.String(), opp.BuyVenue, opp.BuyPrice.StringFixed(6), opp.SellVenue, opp.SellPrice.StringFixed(6),
		opp.NetProfitPercent.StringFixed(3), opp.RecommendedSize.StringFixed(6), opp.Confidence)
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ EXECUTE", "EXECCV_"+id),
			tgbotapi.NewInlineKeyboardButtonData("❌ DISCARD", "DISCARD_"+id),
		),
	)
	if _, err := s.bot.Send(msg); err != nil {
		log.Printf("⚠️ Failed to send approval request: %v", err)
	}
}

func (s *Service) AlertTriangular(opp model.TriangularOpportunity) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	id := fmt.Sprintf("%d", time.Now().UnixNano())
	s.pending.Store(id, opp)

	text := fmt.Sprintf("🔺 *TRIANGULAR OPPORTUNITY*\n\n*Venue:* %s\n*Path:* %v\n*Profit:* %s\n*Confidence:* %.1f",
		opp.Venue, opp.Path, opp.Profit().StringFixed(6), opp.Confidence)
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ EXECUTE", "EXECTRI_"+id),
			tgbotapi.NewInlineKeyboardButtonData("❌ DISCARD", "DISCARD_"+id),
		),
	)
	if _, err := s.bot.Send(msg); err != nil {
		log.Printf("⚠️ Failed to send approval request: %v", err)
	}
}

// NotifyAttempt pushes a terminal TradeAttempt's outcome.
func (s *Service) NotifyAttempt(a model.TradeAttempt) {
	icon := "✅"
	if a.Status != model.StatusCompleted {
		icon = "⚠️"
	}
	s.Notify(fmt.Sprintf("%s *TRADE %s* — %s\nProfit: %s\n%s",
		icon, a.Status, a.Kind, a.RealizedProfit.StringFixed(6), a.Err))
}

// Notify sends a fire-and-forget Markdown message. Safe to call on a nil
// Service (notifications simply become a no-op).
func (s *Service) Notify(msg string) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(s.chatID, msg)
		cfg.ParseMode = "Markdown"
		if _, err := s.bot.Send(cfg); err != nil {
			log.Printf("⚠️ Failed to send Telegram message: %v", err)
		}
	}()
}
