package messaging

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrEmptyInbound = errors.New("inbound payload has no sender or content")

// Inbound is a provider message reduced to what the conversation needs.
type Inbound struct {
	ID       string `json:"id,omitempty"`
	Phone    string `json:"phone"`
	Message  string `json:"message"`
	AudioURL string `json:"audio_url,omitempty"`
}

type flatPayload struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Phone     string `json:"phone"`
	From      string `json:"from"`
	Message   string `json:"message"`
	Text      string `json:"text"`
	Body      string `json:"body"`
	AudioURL  string `json:"audioUrl"`
	AudioURL2 string `json:"audio_url"`
}

type cloudPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio struct {
						ID  string `json:"id"`
						URL string `json:"url"`
					} `json:"audio"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseInbound accepts the gateway's flat shape and the WhatsApp Cloud webhook shape.
// The phone is returned canonical.
func ParseInbound(body []byte) (Inbound, error) {
	var cloud cloudPayload
	if err := json.Unmarshal(body, &cloud); err == nil && len(cloud.Entry) > 0 {
		for _, e := range cloud.Entry {
			for _, c := range e.Changes {
				if len(c.Value.Messages) == 0 {
					continue
				}
				m := c.Value.Messages[0]
				return check(Inbound{ID: m.ID, Phone: NormalizePhone(m.From), Message: strings.TrimSpace(m.Text.Body), AudioURL: m.Audio.URL})
			}
		}
		// status callbacks carry no messages
		return Inbound{}, ErrEmptyInbound
	}

	var flat flatPayload
	if err := json.Unmarshal(body, &flat); err != nil {
		return Inbound{}, err
	}
	in := Inbound{
		ID:       first(flat.ID, flat.MessageID),
		Phone:    NormalizePhone(first(flat.Phone, flat.From)),
		Message:  strings.TrimSpace(first(flat.Message, flat.Text, flat.Body)),
		AudioURL: first(flat.AudioURL, flat.AudioURL2),
	}
	return check(in)
}

func check(in Inbound) (Inbound, error) {
	if in.Phone == "" || (in.Message == "" && in.AudioURL == "") {
		return in, ErrEmptyInbound
	}
	return in, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
