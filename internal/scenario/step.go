package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
)

type Transition struct {
	OnCallback string `json:"on_callback"`
	NextStepID string `json:"next_step_id"`
}

// Step is one node of a scenario graph. Media holds the reference from the
// photo, video, audio or file field matching Kind.
type Step struct {
	ID          string
	Kind        delivery.Kind
	Text        string
	Media       string
	Buttons     []delivery.Button
	Transitions []Transition
	NextStepID  string
	Delay       time.Duration
}

type buttonDoc struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type stepDoc struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Photo       string       `json:"photo,omitempty"`
	Video       string       `json:"video,omitempty"`
	Audio       string       `json:"audio,omitempty"`
	File        string       `json:"file,omitempty"`
	Buttons     []buttonDoc  `json:"buttons,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
	NextStepID  string       `json:"next_step_id,omitempty"`
	Delay       string       `json:"delay,omitempty"`
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var doc stepDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	kind := delivery.Kind(strings.ToLower(strings.TrimSpace(doc.Type)))
	if kind == "" {
		kind = delivery.KindText
	}
	if !kind.Valid() {
		return fmt.Errorf("step %q: unknown type %q", doc.ID, doc.Type)
	}

	var delay time.Duration
	if doc.Delay != "" {
		d, err := time.ParseDuration(doc.Delay)
		if err != nil {
			return fmt.Errorf("step %q: delay: %w", doc.ID, err)
		}
		delay = d
	}

	*s = Step{
		ID:          strings.TrimSpace(doc.ID),
		Kind:        kind,
		Text:        doc.Text,
		Transitions: doc.Transitions,
		NextStepID:  strings.TrimSpace(doc.NextStepID),
		Delay:       delay,
	}
	switch kind {
	case delivery.KindImage:
		s.Media = doc.Photo
	case delivery.KindVideo:
		s.Media = doc.Video
	case delivery.KindAudio:
		s.Media = doc.Audio
	case delivery.KindFile:
		s.Media = doc.File
	}
	for _, b := range doc.Buttons {
		s.Buttons = append(s.Buttons, delivery.Button{Text: b.Text, CallbackData: b.CallbackData, URL: b.URL})
	}
	return nil
}

func (s Step) MarshalJSON() ([]byte, error) {
	doc := stepDoc{
		ID:          s.ID,
		Type:        string(s.Kind),
		Text:        s.Text,
		Transitions: s.Transitions,
		NextStepID:  s.NextStepID,
	}
	if s.Delay > 0 {
		doc.Delay = s.Delay.String()
	}
	switch s.Kind {
	case delivery.KindImage:
		doc.Photo = s.Media
	case delivery.KindVideo:
		doc.Video = s.Media
	case delivery.KindAudio:
		doc.Audio = s.Media
	case delivery.KindFile:
		doc.File = s.Media
	}
	for _, b := range s.Buttons {
		doc.Buttons = append(doc.Buttons, buttonDoc{Text: b.Text, CallbackData: b.CallbackData, URL: b.URL})
	}
	return json.Marshal(doc)
}
