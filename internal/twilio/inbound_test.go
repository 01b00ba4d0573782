package twilio

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractInboundTextMessage(t *testing.T) {
	form := url.Values{
		"From":        {"whatsapp:+5541999998888"},
		"To":          {"whatsapp:+5541000000000"},
		"Body":        {"Oi, tudo bem?"},
		"MessageSid":  {"SM123"},
		"ProfileName": {" Maria "},
		"WaId":        {"5541999998888"},
	}

	in := ExtractInbound(form, "")

	assert.Equal(t, "whatsapp:+5541999998888", in.From)
	assert.Equal(t, "Oi, tudo bem?", in.Body)
	assert.Equal(t, "SM123", in.MessageSID)
	assert.Equal(t, "Maria", in.ProfileName)
	assert.Equal(t, "5541999998888", in.SessionID)
	assert.Equal(t, "+5541999998888", in.ConversationID)
	assert.Empty(t, in.MediaURL)
}

func TestExtractInboundMediaPlaceholders(t *testing.T) {
	cases := []struct {
		mediaType string
		want      string
	}{
		{"audio/ogg", "[Audio]"},
		{"audio/ogg; codecs=opus", "[Audio]"},
		{"image/jpeg", "[Imagem]"},
		{"video/mp4", "[Video]"},
		{"application/pdf", "[Documento]"},
	}
	for _, tc := range cases {
		t.Run(tc.mediaType, func(t *testing.T) {
			form := url.Values{
				"From":              {"whatsapp:+5541999998888"},
				"NumMedia":          {"1"},
				"MediaUrl0":         {"https://api.twilio.com/media/abc"},
				"MediaContentType0": {tc.mediaType},
			}
			in := ExtractInbound(form, "")
			assert.Equal(t, tc.want, in.Body)
			assert.Equal(t, "https://api.twilio.com/media/abc", in.MediaURL)
			assert.Equal(t, tc.mediaType, in.MediaType)
		})
	}
}

func TestExtractInboundCaptionKeepsBody(t *testing.T) {
	form := url.Values{
		"From":              {"whatsapp:+5541999998888"},
		"Body":              {"olha essa foto"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/abc"},
		"MediaContentType0": {"image/jpeg"},
	}
	in := ExtractInbound(form, "")
	assert.Equal(t, "olha essa foto", in.Body, "a caption is never replaced by a placeholder")
}

func TestInboundIDPrecedence(t *testing.T) {
	withSID := Inbound{MessageSID: "SM1", IdempotencyToken: "tok"}
	assert.Equal(t, "SM1", withSID.InboundID())

	withToken := Inbound{IdempotencyToken: "tok"}
	assert.Equal(t, "tok", withToken.InboundID())

	neither := Inbound{}
	first := neither.InboundID()
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, neither.InboundID(), "without any id a random one is generated per call")
}

func TestSessionIDFromAddress(t *testing.T) {
	assert.Equal(t, "5541999998888", sessionIDFromAddress("whatsapp:+5541999998888"))
	assert.Equal(t, "5541999998888", sessionIDFromAddress("+5541999998888"))

	random := sessionIDFromAddress("")
	assert.NotEmpty(t, random)
	assert.NotEqual(t, random, sessionIDFromAddress(""), "blank senders never collide")
}

func TestConversationIDIsE164(t *testing.T) {
	form := url.Values{"From": {"whatsapp:+5541999998888"}}
	in := ExtractInbound(form, "")
	assert.Equal(t, "+"+in.SessionID, in.ConversationID)
}
