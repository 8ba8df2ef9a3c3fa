package slack

import (
	"testing"

	"github.com/slack-go/slack/slackevents"
)

func TestConvertMessageEventSkipsBotMessages(t *testing.T) {
	_, ok := convertMessageEvent(&slackevents.MessageEvent{
		Channel: "C1",
		Text:    "hi",
		BotID:   "B1",
	}, "U-bot")
	if ok {
		t.Fatal("expected bot-authored messages to be skipped")
	}
}

func TestConvertMessageEventSkipsOwnMessages(t *testing.T) {
	_, ok := convertMessageEvent(&slackevents.MessageEvent{
		Channel: "C1",
		Text:    "hi",
		User:    "U-bot",
	}, "U-bot")
	if ok {
		t.Fatal("expected the bot's own messages to be skipped")
	}
}

func TestConvertMessageEventSkipsUnhandledSubtypes(t *testing.T) {
	_, ok := convertMessageEvent(&slackevents.MessageEvent{
		Channel: "C1",
		Text:    "hi",
		User:    "U1",
		SubType: "channel_topic",
	}, "U-bot")
	if ok {
		t.Fatal("expected non-file_share subtypes to be skipped")
	}
}

func TestConvertMessageEventBuildsInboundMessage(t *testing.T) {
	msg, ok := convertMessageEvent(&slackevents.MessageEvent{
		Channel:         "C1",
		Text:            "hello there",
		User:            "U1",
		ThreadTimeStamp: "123.456",
	}, "U-bot")
	if !ok {
		t.Fatal("expected conversion to succeed")
	}
	if msg.Channel != "slack" || msg.ChatID != "C1" || msg.Content != "hello there" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
	if msg.UserID != "U1" {
		t.Fatalf("unexpected user id: %+v", msg)
	}
	if msg.Metadata["slack_thread_ts"] != "123.456" {
		t.Fatalf("expected thread ts in metadata, got %+v", msg.Metadata)
	}
}

func TestChannelName(t *testing.T) {
	c := New("xoxb-token", "xapp-token", nil, nil)
	if c.Name() != "slack" {
		t.Fatalf("expected name slack, got %q", c.Name())
	}
}
