package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

type metaPayload struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID        string          `json:"id"`
	Messaging []metaMessaging `json:"messaging"`
	Changes   []metaChange    `json:"changes"`
}

type metaMessaging struct {
	Sender    struct{ ID string } `json:"sender"`
	Recipient struct{ ID string } `json:"recipient"`
	Timestamp int64               `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type string `json:"type"`
		} `json:"attachments"`
	} `json:"message"`
}

type metaChange struct {
	Field string `json:"field"`
	Value struct {
		Metadata struct {
			PhoneNumberID string `json:"phone_number_id"`
		} `json:"metadata"`
		Contacts []struct {
			WaID    string `json:"wa_id"`
			Profile struct {
				Name string `json:"name"`
			} `json:"profile"`
		} `json:"contacts"`
		Messages []struct {
			From      string `json:"from"`
			ID        string `json:"id"`
			Timestamp string `json:"timestamp"`
			Type      string `json:"type"`
			Text      *struct {
				Body string `json:"body"`
			} `json:"text"`
		} `json:"messages"`
	} `json:"value"`
}

// ParseMeta normalizes an Instagram or WhatsApp Business delivery. Echoes
// of our own sends and status-only updates produce no messages.
func ParseMeta(body []byte) ([]Inbound, error) {
	var p metaPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch p.Object {
	case "instagram", "page":
		return parseInstagram(p), nil
	case "whatsapp_business_account":
		return parseWhatsApp(p), nil
	default:
		return nil, fmt.Errorf("%w: unknown object %q", ErrMalformed, p.Object)
	}
}

func parseInstagram(p metaPayload) []Inbound {
	var out []Inbound
	for _, entry := range p.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho {
				continue
			}
			account := m.Recipient.ID
			if account == "" {
				account = entry.ID
			}
			msg := model.InboundMessage{
				Channel:           model.ChannelInstagram,
				CustomerIdentity:  m.Sender.ID,
				Content:           m.Message.Text,
				ExternalMessageID: m.Message.MID,
			}
			if m.Timestamp > 0 {
				msg.ReceivedAt = time.UnixMilli(m.Timestamp).UTC()
			}
			if len(m.Message.Attachments) > 0 {
				msg.Metadata = map[string]any{"attachment_type": m.Message.Attachments[0].Type}
			}
			out = append(out, Inbound{Channel: model.ChannelInstagram, AccountID: account, Message: msg})
		}
	}
	return out
}

func parseWhatsApp(p metaPayload) []Inbound {
	var out []Inbound
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				msg := model.InboundMessage{
					Channel:           model.ChannelWhatsApp,
					CustomerIdentity:  m.From,
					CustomerName:      names[m.From],
					ExternalMessageID: m.ID,
				}
				if m.Text != nil {
					msg.Content = m.Text.Body
				}
				if m.Type != "" && m.Type != "text" {
					msg.Metadata = map[string]any{"message_type": m.Type}
				}
				if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && secs > 0 {
					msg.ReceivedAt = time.Unix(secs, 0).UTC()
				}
				out = append(out, Inbound{Channel: model.ChannelWhatsApp, AccountID: v.Metadata.PhoneNumberID, Message: msg})
			}
		}
	}
	return out
}
