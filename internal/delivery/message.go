package delivery

import (
	"context"
	"errors"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindFile  Kind = "file"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// Button carries exactly one of a callback token or an external link.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

var (
	ErrAmbiguousButton = errors.New("button has both callback_data and url")
	ErrButtonNoAction  = errors.New("button has neither callback_data nor url")
)

func (b Button) Validate() error {
	switch {
	case b.CallbackData != "" && b.URL != "":
		return ErrAmbiguousButton
	case b.CallbackData == "" && b.URL == "":
		return ErrButtonNoAction
	}
	return nil
}

// Message is one outbound chat message. Media is a file id or URL and is
// ignored for KindText.
type Message struct {
	Kind    Kind
	Media   string
	Text    string
	Buttons []Button
}

type Sender interface {
	Send(ctx context.Context, chatID int64, msg Message) error
}
