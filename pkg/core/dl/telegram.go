package dl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Laky-64/gologging"
	tg "github.com/amarnathcjd/gogram/telegram"
)

var (
	ErrInvalidMessageLink = errors.New("invalid telegram message link")
	ErrMessageNotFound    = errors.New("telegram message not found")
)

// MessageLink points at one message: <prefix>/<chat>/<message id>.
type MessageLink struct {
	Chat      string
	MessageID int
}

// IsTelegramLink reports whether a CDN URL is a Telegram message pointer rather than a fetchable file.
func IsTelegramLink(cdnURL string) bool {
	return strings.HasPrefix(cdnURL, "https://t.me/") || strings.HasPrefix(cdnURL, "http://t.me/")
}

// ParseMessageLink takes the last two path segments of a t.me link as the chat and
// the integer message id.
func ParseMessageLink(link string) (MessageLink, error) {
	if !IsTelegramLink(link) {
		return MessageLink{}, fmt.Errorf("%w: %s", ErrInvalidMessageLink, link)
	}
	u, err := url.Parse(link)
	if err != nil {
		return MessageLink{}, fmt.Errorf("%w: %v", ErrInvalidMessageLink, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return MessageLink{}, fmt.Errorf("%w: %s", ErrInvalidMessageLink, link)
	}

	chat := parts[len(parts)-2]
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || chat == "" || id <= 0 {
		return MessageLink{}, fmt.Errorf("%w: %s", ErrInvalidMessageLink, link)
	}
	return MessageLink{Chat: chat, MessageID: id}, nil
}

// Message is a fetched platform message carrying a downloadable asset.
type Message interface {
	Download(ctx context.Context, dir string) (string, error)
}

// Platform fetches messages from the messaging platform. GetMessage returns
// ErrMessageNotFound when the message does not exist.
type Platform interface {
	GetMessage(ctx context.Context, chat string, id int) (Message, error)
}

// TelegramPlatform is a Platform backed by an authenticated gogram client.
type TelegramPlatform struct {
	Client *tg.Client
}

// NewTelegramPlatform wraps an already connected client.
func NewTelegramPlatform(client *tg.Client) *TelegramPlatform {
	return &TelegramPlatform{Client: client}
}

// GetMessage retrieves one message. Numeric chat identifiers, as used by private
// t.me/c/<id>/<msg> links, are resolved as channel ids.
func (p *TelegramPlatform) GetMessage(ctx context.Context, chat string, id int) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var peer any = chat
	if n, err := strconv.ParseInt(chat, 10, 64); err == nil {
		peer = n
	}

	msg, err := p.Client.GetMessageByID(peer, int32(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s/%d: %w", chat, id, err)
	}
	if msg == nil || !msg.IsMedia() {
		return nil, ErrMessageNotFound
	}
	return &telegramMessage{msg: msg}, nil
}

type telegramMessage struct {
	msg *tg.NewMessage
}

// Download saves the message's media into dir and returns the local path.
func (m *telegramMessage) Download(ctx context.Context, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	opts := &tg.DownloadOptions{}
	if m.msg.File != nil {
		if name := sanitizeFilename(m.msg.File.Name); name != "" {
			opts.FileName = filepath.Join(dir, name)
		}
	}
	if opts.FileName == "" {
		opts.FileName = filepath.Join(dir, generateUniqueName())
	}

	if fileExists(opts.FileName) {
		return opts.FileName, nil
	}
	return m.msg.Download(opts)
}

// TelegramConfig carries the credentials needed by ConnectBot.
type TelegramConfig struct {
	ApiId       int32
	ApiHash     string
	Token       string
	SessionFile string
}

// handleFlood pauses on flood wait errors so the client can retry.
func handleFlood(err error) bool {
	if wait := tg.GetFloodWait(err); wait > 0 {
		gologging.InfoF("A flood wait has been detected. Sleeping for %ds.", wait)
		time.Sleep(time.Duration(wait) * time.Second)
		return true
	}
	return false
}

// ConnectBot creates a client, connects and logs in with the bot token.
func ConnectBot(conf TelegramConfig) (*tg.Client, error) {
	cfg := tg.NewClientConfigBuilder(conf.ApiId, conf.ApiHash).
		WithSession(conf.SessionFile).
		WithFloodHandler(handleFlood).
		Build()

	client, err := tg.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create the client: %w", err)
	}
	if _, err := client.Conn(); err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	if err := client.LoginBot(conf.Token); err != nil {
		return nil, fmt.Errorf("failed to log in as the bot: %w", err)
	}
	return client, nil
}
