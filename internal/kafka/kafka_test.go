package kafka

import (
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestKindTopic(t *testing.T) {
	assert.Equal(t, "generation.image", KindTopic("IMAGE"))
	assert.Equal(t, "generation.video", KindTopic("VIDEO"))
}

func TestMessageNotBefore_MissingHeader(t *testing.T) {
	msg := Message{}
	assert.True(t, msg.NotBefore().IsZero())
}

func TestMessageNotBefore_RoundTrip(t *testing.T) {
	at := time.Now().UTC().Add(4 * time.Second).Truncate(time.Millisecond)
	msg := Message{Headers: []segkafka.Header{
		{Key: headerNotBefore, Value: []byte(at.Format(time.RFC3339Nano))},
	}}
	assert.True(t, msg.NotBefore().Equal(at))
}

func TestMessageNotBefore_Malformed(t *testing.T) {
	msg := Message{Headers: []segkafka.Header{
		{Key: headerNotBefore, Value: []byte("yesterday-ish")},
	}}
	assert.True(t, msg.NotBefore().IsZero(), "malformed timestamps mean immediately visible")
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	c := make(HeaderCarrier, 0)
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)
}
