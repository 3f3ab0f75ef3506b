package media

import (
	"context"
	"testing"
	"time"

	"live-relay/internal/relay"

	"github.com/stretchr/testify/assert"
)

func TestClip_Release(t *testing.T) {
	calls := 0
	c := NewClip(4000, []byte("clip"), time.Second, func() { calls++ })

	assert.Equal(t, int64(4000), c.TimestampMs())
	assert.Equal(t, time.Second, c.Duration())
	assert.Equal(t, []byte("clip"), c.Bytes())

	c.Release()
	c.Release()
	assert.True(t, c.Released())
	assert.Nil(t, c.Bytes())
	assert.Equal(t, 1, calls)
}

func TestDecoder_Decode_process_failure(t *testing.T) {
	d := NewDecoder(fakeFFmpeg(t, "fail"), time.Second)
	_, err := d.Decode(context.Background(), relay.Segment{TimestampMs: 1, Payload: []byte("x")})
	assert.ErrorIs(t, err, ErrDecodeFailed)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestDecoder_Decode_rejects_trackless_output(t *testing.T) {
	d := NewDecoder(fakeFFmpeg(t, "echo"), time.Second)
	_, err := d.Decode(context.Background(), relay.Segment{TimestampMs: 1, Payload: concat(ftyp(), box("mdat", []byte("x")))})
	assert.ErrorIs(t, err, ErrDecodeFailed)
}
