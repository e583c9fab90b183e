package models

import (
	"strings"
	"testing"
	"time"
)

func TestDetectChannel(t *testing.T) {
	tests := []struct {
		sender string
		want   Channel
	}{
		{"whatsapp:+15551234567", ChannelWhatsApp},
		{"WhatsApp:+15551234567", ChannelWhatsApp},
		{"+15551234567", ChannelSMS},
		{"", ChannelSMS},
	}
	for _, tt := range tests {
		if got := DetectChannel(tt.sender); got != tt.want {
			t.Errorf("DetectChannel(%q) = %q, want %q", tt.sender, got, tt.want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []Tag
	}{
		{"valid tags kept in order", []string{"booking", "general"}, []Tag{TagBooking, TagGeneral}},
		{"case and whitespace cleaned", []string{" Booking ", "HOURS"}, []Tag{TagBooking, TagHours}},
		{"unknown tags dropped", []string{"booking", "spam"}, []Tag{TagBooking}},
		{"all unknown falls back to other", []string{"spam", "junk"}, []Tag{TagOther}},
		{"empty input falls back to other", nil, []Tag{TagOther}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTags(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("NormalizeTags(%v) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("NormalizeTags(%v)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTagsCSVRoundTrip(t *testing.T) {
	tags := []Tag{TagBooking, TagGeneral}
	csv := TagsToCSV(tags)
	if csv != "booking,general" {
		t.Errorf("TagsToCSV = %q, want %q", csv, "booking,general")
	}
	back := TagsFromCSV(csv)
	if len(back) != 2 || back[0] != TagBooking || back[1] != TagGeneral {
		t.Errorf("TagsFromCSV(%q) = %v", csv, back)
	}
}

func TestTagsFromCSVEmpty(t *testing.T) {
	got := TagsFromCSV("")
	if len(got) != 1 || got[0] != TagOther {
		t.Errorf("TagsFromCSV(\"\") = %v, want [other]", got)
	}
}

func TestImportantTags(t *testing.T) {
	important := []Tag{TagBooking, TagHours, TagLocation, TagComplaint, TagEmergency}
	for _, tag := range important {
		if !IsImportantTag(tag) {
			t.Errorf("IsImportantTag(%q) = false, want true", tag)
		}
	}
	for _, tag := range []Tag{TagPricing, TagServiceQuestion, TagGeneral, TagOther} {
		if IsImportantTag(tag) {
			t.Errorf("IsImportantTag(%q) = true, want false", tag)
		}
	}
}

func TestInboundMessageValidate(t *testing.T) {
	m := InboundMessage{From: "+15551234567", Body: "hello"}
	if err := m.Validate(); err != nil {
		t.Errorf("expected valid message, got %v", err)
	}
	empty := InboundMessage{Body: "hello"}
	if err := empty.Validate(); err != ErrEmptySender {
		t.Errorf("expected ErrEmptySender, got %v", err)
	}
}

func TestExchangeValidate(t *testing.T) {
	valid := Exchange{
		ID:        "ex",
		Timestamp: time.Now(),
		Channel:   ChannelSMS,
		Sender:    "+15551234567",
		ReplyText: "Thanks for reaching out.",
		Tags:      []Tag{TagGeneral},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid exchange, got %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(e *Exchange)
		wantErr error
	}{
		{"empty id", func(e *Exchange) { e.ID = "" }, ErrEmptyExchange},
		{"empty sender", func(e *Exchange) { e.Sender = "" }, ErrEmptySender},
		{"invalid channel", func(e *Exchange) { e.Channel = "carrier-pigeon" }, ErrInvalidChannel},
		{"empty reply", func(e *Exchange) { e.ReplyText = "" }, ErrEmptyReplyText},
		{"reply too long", func(e *Exchange) { e.ReplyText = strings.Repeat("a", DefaultMaxReplyLength+1) }, ErrReplyTooLong},
		{"no tags", func(e *Exchange) { e.Tags = nil }, ErrNoTags},
		{"invalid tag", func(e *Exchange) { e.Tags = []Tag{"spam"} }, ErrInvalidTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			if err := e.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOutcomePrimaryTag(t *testing.T) {
	o := ReplyOutcome{Tags: []Tag{TagBooking, TagGeneral}}
	if o.PrimaryTag() != TagBooking {
		t.Errorf("PrimaryTag = %q, want booking", o.PrimaryTag())
	}
	empty := ReplyOutcome{}
	if empty.PrimaryTag() != TagOther {
		t.Errorf("empty PrimaryTag = %q, want other", empty.PrimaryTag())
	}
}
