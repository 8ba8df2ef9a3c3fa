package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestConvertMessageSkipsBotAuthors(t *testing.T) {
	_, ok := convertMessage(&discordgo.Message{
		ChannelID: "c1",
		Content:   "hello",
		Author:    &discordgo.User{ID: "u1", Bot: true},
	})
	if ok {
		t.Fatal("expected bot-authored messages to be skipped")
	}
}

func TestConvertMessageSkipsEmptyContent(t *testing.T) {
	_, ok := convertMessage(&discordgo.Message{
		ChannelID: "c1",
		Content:   "",
		Author:    &discordgo.User{ID: "u1"},
	})
	if ok {
		t.Fatal("expected empty content to be skipped")
	}
}

func TestConvertMessageBuildsInboundMessage(t *testing.T) {
	msg, ok := convertMessage(&discordgo.Message{
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "hello there",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	})
	if !ok {
		t.Fatal("expected conversion to succeed")
	}
	if msg.Channel != "discord" || msg.ChatID != "c1" || msg.Content != "hello there" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
	if msg.UserID != "u1" || msg.UserName != "alice" {
		t.Fatalf("unexpected user fields: %+v", msg)
	}
	if msg.Metadata["discord_guild_id"] != "g1" {
		t.Fatalf("expected guild id in metadata, got %+v", msg.Metadata)
	}
}

func TestChannelName(t *testing.T) {
	c := New("token", nil, nil)
	if c.Name() != "discord" {
		t.Fatalf("expected name discord, got %q", c.Name())
	}
}
