package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

const tiktokMessageEvent = "im_receive_msg"

type tiktokPayload struct {
	Event      string `json:"event"`
	BusinessID string `json:"business_id"`
	CreateTime int64  `json:"create_time"`
	Message    struct {
		MessageID string `json:"message_id"`
		Type      string `json:"type"`
		Sender    struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Role        string `json:"role"`
		} `json:"sender"`
		Text struct {
			Body string `json:"body"`
		} `json:"text"`
	} `json:"message"`
}

// ParseTikTok normalizes a TikTok Business messaging delivery. Events other
// than received messages, and messages sent by the business itself, produce
// nothing.
func ParseTikTok(body []byte) ([]Inbound, error) {
	var p tiktokPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Event != tiktokMessageEvent || p.Message.Sender.Role == "business" {
		return nil, nil
	}
	msg := model.InboundMessage{
		Channel:           model.ChannelTikTok,
		CustomerIdentity:  p.Message.Sender.ID,
		CustomerName:      p.Message.Sender.DisplayName,
		Content:           p.Message.Text.Body,
		ExternalMessageID: p.Message.MessageID,
	}
	if p.CreateTime > 0 {
		msg.ReceivedAt = time.Unix(p.CreateTime, 0).UTC()
	}
	if p.Message.Type != "" && p.Message.Type != "TEXT" {
		msg.Metadata = map[string]any{"message_type": p.Message.Type}
	}
	return []Inbound{{Channel: model.ChannelTikTok, AccountID: p.BusinessID, Message: msg}}, nil
}
