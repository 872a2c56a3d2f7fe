package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
	"github.com/BatmanBruc/club-subscription-bot/internal/messages"
)

type recordingSender struct {
	sent []sentMessage
	err  error
}

type sentMessage struct {
	chatID int64
	msg    delivery.Message
}

func (s *recordingSender) Send(_ context.Context, chatID int64, msg delivery.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, msg: msg})
	return nil
}

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		step Step
		want delivery.Message
	}{
		{
			name: "text",
			step: Step{Kind: delivery.KindText, Text: "hello"},
			want: delivery.Message{Kind: delivery.KindText, Text: "hello"},
		},
		{
			name: "empty text",
			step: Step{Kind: delivery.KindText},
			want: delivery.Message{Kind: delivery.KindText, Text: messages.EmptyStep},
		},
		{
			name: "image with caption",
			step: Step{Kind: delivery.KindImage, Media: "AgAD", Text: "cap"},
			want: delivery.Message{Kind: delivery.KindImage, Media: "AgAD", Text: "cap"},
		},
		{
			name: "video without media",
			step: Step{Kind: delivery.KindVideo, Text: "caption only"},
			want: delivery.Message{Kind: delivery.KindText, Text: "caption only"},
		},
		{
			name: "file without media or text",
			step: Step{Kind: delivery.KindFile},
			want: delivery.Message{Kind: delivery.KindText, Text: messages.EmptyStep},
		},
	}
	for _, tc := range cases {
		got := Render(&tc.step)
		if got.Kind != tc.want.Kind || got.Media != tc.want.Media || got.Text != tc.want.Text {
			t.Fatalf("%s: Render = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestDeliver(t *testing.T) {
	sender := &recordingSender{}
	st := &Step{ID: "a", Kind: delivery.KindText, Text: "hi", Buttons: []delivery.Button{{Text: "go", CallbackData: "go"}}}

	ok, err := Deliver(context.Background(), sender, 42, st)
	if err != nil || !ok {
		t.Fatalf("Deliver = %v, %v", ok, err)
	}
	if len(sender.sent) != 1 || sender.sent[0].chatID != 42 || len(sender.sent[0].msg.Buttons) != 1 {
		t.Fatalf("sent = %+v", sender.sent)
	}

	if ok, err := Deliver(context.Background(), sender, 42, nil); ok || err != nil {
		t.Fatalf("nil step: %v, %v", ok, err)
	}

	failing := &recordingSender{err: errors.New("boom")}
	if ok, err := Deliver(context.Background(), failing, 42, st); ok || err == nil {
		t.Fatalf("failing sender: %v, %v", ok, err)
	}
}
