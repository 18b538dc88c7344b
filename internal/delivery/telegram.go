package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Large videos can take minutes to upload.
const uploadTimeout = 10 * time.Minute

var ErrInvalidChatID = errors.New("chat id must be numeric or @channel")

type TelegramTransport struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramTransport authenticates the bot (one getMe call). endpoint uses
// the tgbotapi format "https://host/bot%s/%s"; empty means the public API.
func NewTelegramTransport(token, endpoint string) (*TelegramTransport, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: uploadTimeout}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return &TelegramTransport{bot: bot}, nil
}

func (t *TelegramTransport) BotName() string {
	return t.bot.Self.UserName
}

func (t *TelegramTransport) SendVideo(ctx context.Context, chatID string, file io.Reader, filename string) error {
	id, channel, err := chatTarget(chatID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewVideo(id, tgbotapi.FileReader{Name: filename, Reader: file})
	msg.ChannelUsername = channel
	msg.SupportsStreaming = true

	_, err = t.bot.Send(msg)
	return err
}

func (t *TelegramTransport) SendDocument(ctx context.Context, chatID string, file io.Reader, filename string) error {
	id, channel, err := chatTarget(chatID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewDocument(id, tgbotapi.FileReader{Name: filename, Reader: file})
	msg.ChannelUsername = channel

	_, err = t.bot.Send(msg)
	return err
}

func chatTarget(chatID string) (int64, string, error) {
	chatID = strings.TrimSpace(chatID)
	if strings.HasPrefix(chatID, "@") && len(chatID) > 1 {
		return 0, chatID, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%q: %w", chatID, ErrInvalidChatID)
	}
	return id, "", nil
}

type ChatInfo struct {
	ID       int64
	Type     string
	Title    string
	UserName string
}

// ListChats reports the chats seen in the bot's pending updates, which is how
// an operator finds the numeric id of a group the bot was added to.
func (t *TelegramTransport) ListChats(ctx context.Context, limit int) ([]ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updates, err := t.bot.GetUpdates(tgbotapi.UpdateConfig{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}

	var chats []ChatInfo
	seen := make(map[int64]bool)
	for _, u := range updates {
		var chat *tgbotapi.Chat
		switch {
		case u.Message != nil:
			chat = u.Message.Chat
		case u.ChannelPost != nil:
			chat = u.ChannelPost.Chat
		case u.MyChatMember != nil:
			chat = &u.MyChatMember.Chat
		}
		if chat == nil || seen[chat.ID] {
			continue
		}
		seen[chat.ID] = true
		chats = append(chats, ChatInfo{
			ID:       chat.ID,
			Type:     chat.Type,
			Title:    chat.Title,
			UserName: chat.UserName,
		})
	}
	return chats, nil
}
