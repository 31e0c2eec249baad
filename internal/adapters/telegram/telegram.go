// Package telegram adapts the Telegram Bot API to the notify.Platform
// surface. Targets are "chatID" or "chatID:threadID"; refs are message ids
// within the target chat.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

type Config struct {
	Token     string
	Timeout   time.Duration
	ParseMode string
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, target, text string) (string, error) {
	chatID, threadID, err := parseTarget(target)
	if err != nil {
		return "", err
	}
	opts := &tele.SendOptions{ParseMode: a.cfg.ParseMode, ThreadID: threadID}
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, text, opts)
	if err != nil {
		return "", mapErr(err)
	}
	return strconv.Itoa(msg.ID), nil
}

func (a *Adapter) EditText(ctx context.Context, target, ref, text string) error {
	chatID, _, err := parseTarget(target)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("bad message ref %q: %w", ref, err)
	}
	m := &tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}}
	if _, err := a.bot.Edit(m, text, &tele.SendOptions{ParseMode: a.cfg.ParseMode}); err != nil {
		if errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		return mapErr(err)
	}
	return nil
}

func (a *Adapter) SendDocument(ctx context.Context, target, name string, data []byte) (string, error) {
	chatID, threadID, err := parseTarget(target)
	if err != nil {
		return "", err
	}
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(data)),
		FileName: name,
	}
	opts := &tele.SendOptions{ThreadID: threadID}
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, doc, opts)
	if err != nil {
		return "", mapErr(err)
	}
	return strconv.Itoa(msg.ID), nil
}

// Teardown deletes a ticket resource. A resource id of the form
// "chatID:threadID" names a forum topic; a bare chat id cannot be deleted
// by a bot and is reported as gone so close flows can finish.
func (a *Adapter) Teardown(ctx context.Context, resourceID string) error {
	chatID, threadID, err := parseTarget(resourceID)
	if err != nil {
		return err
	}
	if threadID == 0 {
		a.log.Warn("teardown skipped for non-topic resource", logx.String("resource", resourceID))
		return sched.ErrTargetGone
	}
	if err := a.bot.DeleteTopic(&tele.Chat{ID: chatID}, &tele.Topic{ThreadID: threadID}); err != nil {
		return mapErr(err)
	}
	return nil
}

func parseTarget(target string) (chatID int64, threadID int, err error) {
	chatPart, threadPart, found := strings.Cut(target, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad target %q: %w", target, err)
	}
	if found {
		threadID, err = strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil {
			return 0, 0, fmt.Errorf("bad target thread %q: %w", target, err)
		}
	}
	return chatID, threadID, nil
}

// mapErr folds Telegram API failures into the scheduler's taxonomy: a
// missing or inaccessible chat is permanently gone, everything else is
// retried on a later tick.
func mapErr(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return sched.Transient(err)
	}
	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrNotFoundToDelete),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel):
		return sched.ErrTargetGone
	}
	return sched.Transient(err)
}
