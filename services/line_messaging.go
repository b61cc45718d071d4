package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

// ErrLineDisabled is returned when no LINE credentials are configured.
var ErrLineDisabled = errors.New("LINE messaging is not configured")

// LineMessagingService pushes text messages to guides over the LINE Messaging API.
type LineMessagingService struct {
	Bot *linebot.Client
}

// NewLineMessagingService builds the client. Missing credentials disable
// pushes rather than failing startup.
func NewLineMessagingService(channelSecret, channelToken string) *LineMessagingService {
	if channelSecret == "" || channelToken == "" {
		logrus.Warn("LINE Messaging API disabled: missing LINE_CHANNEL_SECRET or LINE_CHANNEL_ACCESS_TOKEN")
		return &LineMessagingService{}
	}

	bot, err := linebot.New(channelSecret, channelToken)
	if err != nil {
		logrus.WithError(err).Error("Cannot create LINE bot client, pushes disabled")
		return &LineMessagingService{}
	}
	return &LineMessagingService{Bot: bot}
}

// Enabled reports whether pushes can be sent.
func (s *LineMessagingService) Enabled() bool {
	return s != nil && s.Bot != nil
}

// PushText sends a text message to a LINE user or group id.
func (s *LineMessagingService) PushText(to, message string) error {
	if !s.Enabled() {
		return ErrLineDisabled
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("LINE recipient is empty")
	}
	if _, err := s.Bot.PushMessage(to, linebot.NewTextMessage(message)).Do(); err != nil {
		return fmt.Errorf("LINE Messaging API failed: %w", err)
	}
	return nil
}
