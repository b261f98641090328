package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mmsafe/warden/internal/logger"
)

// Telegram sends messages through the Telegram Bot API. An empty
// token makes every Send a silent no-op. An empty chat id triggers a
// single best-effort discovery via getUpdates; if that fails the
// notifier stays a no-op.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	host    string
	client  *http.Client
	log     logger.Logger

	discoveryTried bool
}

// NewTelegram creates a notifier. host is included in every message
// so alerts from different machines are distinguishable.
func NewTelegram(token, chatID, apiBase, host string, log logger.Logger) *Telegram {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		apiBase: apiBase,
		host:    host,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Send delivers a message at the given severity. It never returns an
// error: delivery problems are logged and dropped.
func (t *Telegram) Send(sev Severity, msg string) {
	if t.token == "" {
		t.log.Debug("Telegram token unset, dropping notification", logger.F("severity", sev))
		return
	}

	chatID := t.chatID
	if chatID == "" && !t.discoveryTried {
		t.discoveryTried = true
		chatID = t.discoverChatID()
		t.chatID = chatID
	}
	if chatID == "" {
		t.log.Warn("Telegram chat id unknown, dropping notification", logger.F("severity", sev))
		return
	}

	text := fmt.Sprintf("%s [%s] %s %s\n%s",
		sev.prefix(), sev, t.host, time.Now().Format(time.RFC3339), msg)

	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		t.log.Warn("Failed to encode notification", logger.F("error", err))
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.log.Warn("Notification delivery failed", logger.F("error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.log.Warn("Notification rejected", logger.F("status", resp.StatusCode))
	}
}

// discoverChatID recovers the chat id from the bot's recent updates.
func (t *Telegram) discoverChatID() string {
	url := fmt.Sprintf("%s/bot%s/getUpdates", t.apiBase, t.token)
	resp, err := t.client.Get(url)
	if err != nil {
		t.log.Warn("Chat id discovery failed", logger.F("error", err))
		return ""
	}
	defer resp.Body.Close()

	var updates struct {
		OK     bool `json:"ok"`
		Result []struct {
			Message struct {
				Chat struct {
					ID int64 `json:"id"`
				} `json:"chat"`
			} `json:"message"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&updates); err != nil || !updates.OK {
		t.log.Warn("Chat id discovery returned no usable updates", logger.F("error", err))
		return ""
	}

	for i := len(updates.Result) - 1; i >= 0; i-- {
		if id := updates.Result[i].Message.Chat.ID; id != 0 {
			t.log.Info("Discovered Telegram chat id", logger.F("chat_id", id))
			return strconv.FormatInt(id, 10)
		}
	}
	return ""
}
