package carrier

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

func TestPayloadSmallIsPlain(t *testing.T) { // A
	t.Parallel()
	in := interfaces.GetRecordRequest{Key: address.FromContent([]byte("x"))}

	b, err := EncodePayload(in)
	require.NoError(t, err)
	require.Equal(t, payloadPlain, b[0])

	var out interfaces.GetRecordRequest
	require.NoError(t, DecodePayload(b, &out))
	require.Equal(t, in, out)
}

func TestPayloadLargeIsCompressed(t *testing.T) { // A
	t.Parallel()
	in := interfaces.GetRecordResponse{
		Holder: address.PeerID{7},
		Found:  true,
		Value:  []byte(strings.Repeat("ouroboros ", 1000)),
	}

	b, err := EncodePayload(in)
	require.NoError(t, err)
	require.Equal(t, payloadCompressed, b[0])
	require.Less(t, len(b), len(in.Value))

	var out interfaces.GetRecordResponse
	require.NoError(t, DecodePayload(b, &out))
	require.Equal(t, in, out)
}

func TestReplicateNoticeKeepsRecordTypes(t *testing.T) { // A
	t.Parallel()
	in := interfaces.ReplicateNotice{
		Holder: address.PeerID{1},
		Entries: []interfaces.ReplicateEntry{
			{Key: address.FromContent([]byte("c")), Type: record.ChunkType()},
			{Key: address.FromContent([]byte("r")), Type: record.NonChunkType(address.FromContent([]byte("v2")))},
		},
	}

	b, err := EncodePayload(in)
	require.NoError(t, err)
	var out interfaces.ReplicateNotice
	require.NoError(t, DecodePayload(b, &out))
	require.Equal(t, in, out)
	require.True(t, out.Entries[0].Type.IsChunk())
	h, ok := out.Entries[1].Type.ContentHash()
	require.True(t, ok)
	require.Equal(t, address.FromContent([]byte("v2")), h)
}

func TestDecodePayloadRejectsGarbage(t *testing.T) { // A
	t.Parallel()
	var out interfaces.GetRecordRequest
	require.Error(t, DecodePayload(nil, &out))
	require.Error(t, DecodePayload([]byte{7, 1, 2}, &out))
	require.Error(t, DecodePayload([]byte{payloadCompressed, 1, 2, 3}, &out))
}

func TestFrameRoundTrip(t *testing.T) { // A
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		msg := Message{
			Type:    MessageType(rapid.Uint8Range(1, uint8(MessageTypeError)).Draw(rt, "type")),
			Payload: rapid.SliceOfN(rapid.Byte(), 1, 4096).Draw(rt, "payload"),
		}
		var buf bytes.Buffer
		require.NoError(rt, writeFrame(&buf, msg))
		require.Equal(rt, frameHeaderSize+len(msg.Payload), buf.Len())

		got, err := readFrame(&buf)
		require.NoError(rt, err)
		require.Equal(rt, msg, got)
	})
}

func TestFrameEmptyPayload(t *testing.T) { // A
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, ackMessage()))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, MessageTypeAck, got.Type)
	require.Empty(t, got.Payload)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) { // A
	t.Parallel()
	header := []byte{byte(MessageTypePutRecord), 0xff, 0xff, 0xff, 0xff}
	_, err := readFrame(bytes.NewReader(header))
	require.ErrorContains(t, err, "payload too large")
}

func TestMessageTypeString(t *testing.T) { // A
	t.Parallel()
	require.Equal(t, "Replicate", MessageTypeReplicate.String())
	require.Equal(t, "Unknown(200)", MessageType(200).String())
}

func TestNormalizeAddress(t *testing.T) { // A
	t.Parallel()
	cases := map[string]string{
		"example.org":      "example.org:4242",
		"example.org:9000": "example.org:9000",
		"10.0.0.1":         "10.0.0.1:4242",
		"::1":              "[::1]:4242",
		"[::1]":            "[::1]:4242",
		"[::1]:9000":       "[::1]:9000",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeAddress(in, 4242), in)
	}
}
