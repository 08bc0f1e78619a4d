// Package model defines data structures for the unified inbox.
package model

// Channel identifies a customer messaging channel. Credentials use the same
// values to name the upstream platform behind the channel.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTikTok    Channel = "tiktok"
)

// Channels lists every supported channel.
var Channels = []Channel{ChannelEmail, ChannelInstagram, ChannelWhatsApp, ChannelTikTok}

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// DisplayName is the human readable platform name used in user-facing errors.
func (c Channel) DisplayName() string {
	switch c {
	case ChannelEmail:
		return "Email"
	case ChannelInstagram:
		return "Instagram"
	case ChannelWhatsApp:
		return "WhatsApp"
	case ChannelTikTok:
		return "TikTok"
	default:
		return string(c)
	}
}
