// Package notify pushes low-quota warnings to Telegram. One message per
// account per dedup window, so a draining quota does not flood the chat.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/quotio/quotiod/internal/models"
)

const dedupWindow = 30 * time.Minute

// Notifier watches fetch cycles for accounts crossing the threshold.
type Notifier struct {
	token     string
	chatID    int64
	threshold float64

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewTelegram builds a notifier; a zero threshold disables it.
func NewTelegram(token string, chatID int64, threshold float64) *Notifier {
	return &Notifier{
		token:     strings.TrimSpace(token),
		chatID:    chatID,
		threshold: threshold,
		lastSent:  make(map[string]time.Time),
	}
}

// Enabled reports whether the notifier can send anything.
func (n *Notifier) Enabled() bool {
	return n != nil && n.token != "" && n.chatID != 0 && n.threshold > 0
}

// ObserveCycle inspects one cycle's snapshots and sends warnings for
// accounts whose lowest known percentage fell below the threshold.
func (n *Notifier) ObserveCycle(snapshots map[string]*models.QuotaSnapshot) {
	if !n.Enabled() {
		return
	}
	for key, snapshot := range snapshots {
		min := snapshot.MinPercent()
		if min < 0 || min >= n.threshold {
			continue
		}
		if !n.shouldSend(key) {
			continue
		}
		text := fmt.Sprintf("⚠️ *%s* is down to %.0f%% of its quota", key, min)
		go n.send(text)
	}
}

func (n *Notifier) shouldSend(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && time.Since(last) < dedupWindow {
		return false
	}
	n.lastSent[key] = time.Now()
	return true
}

// send delivers one message without keeping a bot instance around.
func (n *Notifier) send(text string) {
	bot, err := tgbotapi.NewBotAPI(n.token)
	if err != nil {
		log.Debugf("telegram notifier: %v", err)
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := bot.Send(msg); err != nil {
		log.Debugf("telegram notifier send: %v", err)
	}
}
