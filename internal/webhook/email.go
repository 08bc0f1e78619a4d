package webhook

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

type emailPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

// ParseEmail normalizes an inbound-parse delivery. Addresses are RFC 5322
// and the receiving account is the first recipient.
func ParseEmail(body []byte) ([]Inbound, error) {
	var p emailPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	from, err := mail.ParseAddress(p.From)
	if err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrMalformed, err)
	}
	to, err := mail.ParseAddressList(p.To)
	if err != nil || len(to) == 0 {
		return nil, fmt.Errorf("%w: to: %v", ErrMalformed, err)
	}

	return []Inbound{{
		Channel:   model.ChannelEmail,
		AccountID: strings.ToLower(to[0].Address),
		Message: model.InboundMessage{
			Channel:           model.ChannelEmail,
			CustomerIdentity:  strings.ToLower(from.Address),
			CustomerName:      from.Name,
			Subject:           strings.TrimSpace(p.Subject),
			Content:           strings.TrimSpace(p.Text),
			ExternalMessageID: strings.Trim(p.MessageID, "<> "),
		},
	}}, nil
}
