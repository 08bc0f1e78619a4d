package webhook

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

func TestVerifyMeta(t *testing.T) {
	t.Parallel()
	body := []byte(`{"object":"instagram"}`)
	header := "sha256=" + SignatureFor("app-secret", body)

	assert.NoError(t, VerifyMeta("app-secret", body, header))
	assert.ErrorIs(t, VerifyMeta("other", body, header), ErrBadSignature)
	assert.ErrorIs(t, VerifyMeta("app-secret", []byte(`{}`), header), ErrBadSignature)
	assert.ErrorIs(t, VerifyMeta("app-secret", body, SignatureFor("app-secret", body)), ErrBadSignature)
	assert.ErrorIs(t, VerifyMeta("", body, "sha256="+SignatureFor("", body)), ErrBadSignature)
}

func TestVerifyTikTok(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	body := []byte(`{"event":"im_receive_msg"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	header := "t=" + ts + ",s=" + SignatureFor("secret", []byte(ts), []byte("."), body)

	assert.NoError(t, VerifyTikTok("secret", body, header, now, 5*time.Minute))
	assert.ErrorIs(t, VerifyTikTok("secret", body, header, now.Add(10*time.Minute), 5*time.Minute), ErrBadSignature)
	assert.ErrorIs(t, VerifyTikTok("wrong", body, header, now, 5*time.Minute), ErrBadSignature)
	assert.ErrorIs(t, VerifyTikTok("secret", body, "s=abc", now, 5*time.Minute), ErrBadSignature)
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()
	body := []byte(`{"from":"a@b.c"}`)
	assert.NoError(t, VerifyEmail("s", body, SignatureFor("s", body)))
	assert.ErrorIs(t, VerifyEmail("s", body, "zz"), ErrBadSignature)
}

func TestParseInstagram(t *testing.T) {
	t.Parallel()
	body := []byte(`{"object":"instagram","entry":[{"id":"ig-1","messaging":[
		{"sender":{"id":"igsid-9"},"recipient":{"id":"ig-1"},"timestamp":1773480600000,"message":{"mid":"mid.1","text":"Do you ship abroad?"}},
		{"sender":{"id":"ig-1"},"recipient":{"id":"igsid-9"},"timestamp":1773480601000,"message":{"mid":"mid.2","text":"Yes","is_echo":true}},
		{"sender":{"id":"igsid-9"},"recipient":{"id":"ig-1"},"timestamp":1773480602000,"read":{"mid":"mid.2"}}
	]}]}`)

	got, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.ChannelInstagram, got[0].Channel)
	assert.Equal(t, "ig-1", got[0].AccountID)
	assert.Equal(t, "igsid-9", got[0].Message.CustomerIdentity)
	assert.Equal(t, "Do you ship abroad?", got[0].Message.Content)
	assert.Equal(t, "mid.1", got[0].Message.ExternalMessageID)
	assert.Equal(t, int64(1773480600), got[0].Message.ReceivedAt.Unix())
}

func TestParseInstagramWithoutTimestamp(t *testing.T) {
	t.Parallel()
	body := []byte(`{"object":"instagram","entry":[{"id":"ig-1","messaging":[
		{"sender":{"id":"igsid-9"},"recipient":{"id":"ig-1"},"message":{"mid":"mid.7","text":"hello"}}
	]}]}`)

	got, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Message.ReceivedAt.IsZero())
}

func TestParseWhatsApp(t *testing.T) {
	t.Parallel()
	body := []byte(`{"object":"whatsapp_business_account","entry":[{"id":"waba-1","changes":[{"field":"messages","value":{
		"metadata":{"phone_number_id":"phone-1"},
		"contacts":[{"wa_id":"15551234567","profile":{"name":"Ada"}}],
		"messages":[
			{"from":"15551234567","id":"wamid.1","timestamp":"1773480600","type":"text","text":{"body":"Hi"}},
			{"from":"15551234567","id":"wamid.2","timestamp":"1773480601","type":"image"}
		]}}]}]}`)

	got, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "phone-1", got[0].AccountID)
	assert.Equal(t, "Ada", got[0].Message.CustomerName)
	assert.Equal(t, "Hi", got[0].Message.Content)
	assert.Equal(t, "wamid.1", got[0].Message.ExternalMessageID)
	assert.Empty(t, got[1].Message.Content)
	assert.Equal(t, "image", got[1].Message.Metadata["message_type"])
}

func TestParseMetaRejectsUnknownObject(t *testing.T) {
	t.Parallel()
	_, err := ParseMeta([]byte(`{"object":"user"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseMeta([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseTikTok(t *testing.T) {
	t.Parallel()
	got, err := ParseTikTok([]byte(`{"event":"im_receive_msg","business_id":"biz-1","create_time":1773480600,
		"message":{"message_id":"tt-1","type":"TEXT","sender":{"id":"user-7","display_name":"Grace","role":"user"},"text":{"body":"Price?"}}}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "biz-1", got[0].AccountID)
	assert.Equal(t, "user-7", got[0].Message.CustomerIdentity)
	assert.Equal(t, "Grace", got[0].Message.CustomerName)
	assert.Equal(t, "Price?", got[0].Message.Content)

	got, err = ParseTikTok([]byte(`{"event":"im_receive_msg","business_id":"biz-1","message":{"sender":{"id":"biz-1","role":"business"}}}`))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ParseTikTok([]byte(`{"event":"im_read","business_id":"biz-1"}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseEmail(t *testing.T) {
	t.Parallel()
	got, err := ParseEmail([]byte(`{"from":"Ada Lovelace <Ada@Example.com>","to":"Support <Support@Shop.example>, cc@shop.example",
		"subject":" Order 42 ","text":"Where is it?\n","message_id":"<abc@mail.example>"}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "support@shop.example", got[0].AccountID)
	assert.Equal(t, "ada@example.com", got[0].Message.CustomerIdentity)
	assert.Equal(t, "Ada Lovelace", got[0].Message.CustomerName)
	assert.Equal(t, "Order 42", got[0].Message.Subject)
	assert.Equal(t, "Where is it?", got[0].Message.Content)
	assert.Equal(t, "abc@mail.example", got[0].Message.ExternalMessageID)

	_, err = ParseEmail([]byte(`{"from":"not an address","to":"a@b.c"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}
