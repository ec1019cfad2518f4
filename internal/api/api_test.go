package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketMarshalsAsNumberArray(t *testing.T) {
	body, err := json.Marshal(SendRequest{RecipientID: "bob", StegoImage: Packet{0, 127, 255}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"recipientId":"bob","stegoImage":[0,127,255]}`, string(body))

	body, err = json.Marshal(Packet(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestPacketUnmarshalForms(t *testing.T) {
	var packets []Packet
	require.NoError(t, json.Unmarshal([]byte(`[[1,2,3],"AQID","AQI",null]`), &packets))
	require.Len(t, packets, 4)

	assert.Equal(t, Packet{1, 2, 3}, packets[0])
	assert.Equal(t, Packet{1, 2, 3}, packets[1])
	assert.Equal(t, Packet{1, 2}, packets[2])
	assert.Nil(t, packets[3])
}

func TestPacketUnmarshalRejects(t *testing.T) {
	for _, body := range []string{`[256]`, `[-1]`, `["a"]`, `"@@@"`, `{}`, `12`} {
		var p Packet
		assert.Error(t, json.Unmarshal([]byte(body), &p), body)
	}
}
