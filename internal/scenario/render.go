package scenario

import (
	"context"

	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
	"github.com/BatmanBruc/club-subscription-bot/internal/messages"
)

// Render turns a step into a chat message. A media step without a media
// reference degrades to its caption as text.
func Render(st *Step) delivery.Message {
	msg := delivery.Message{
		Kind:    st.Kind,
		Media:   st.Media,
		Text:    st.Text,
		Buttons: st.Buttons,
	}
	if msg.Kind != delivery.KindText && msg.Media == "" {
		msg.Kind = delivery.KindText
	}
	if msg.Kind == delivery.KindText {
		msg.Media = ""
		if msg.Text == "" {
			msg.Text = messages.EmptyStep
		}
	}
	return msg
}

func Deliver(ctx context.Context, sender delivery.Sender, chatID int64, st *Step) (bool, error) {
	if st == nil {
		return false, nil
	}
	if err := sender.Send(ctx, chatID, Render(st)); err != nil {
		return false, err
	}
	return true, nil
}
