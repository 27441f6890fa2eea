package network

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"input", `{"type":"player_input","up":true}`, TypePlayerInput, false},
		{"not json", `{"type":`, "", true},
		{"no type", `{"content":"hi"}`, "", true},
		{"array", `[1,2]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseInbound(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Type)
		})
	}
}

func TestRequestLobbyDecode(t *testing.T) {
	in, err := ParseInbound(`{"type":"request_lobby","action":"join","lobby_code":"AB12","spectator":true}`)
	require.NoError(t, err)
	var req RequestLobby
	require.NoError(t, in.Decode(&req))
	assert.Equal(t, ActionJoin, req.Action)
	assert.Equal(t, "AB12", req.LobbyCode)
	assert.True(t, req.Spectator)
}

// TestSnapshotOmitsAbsentFields checks optional records stay off the wire.
func TestSnapshotOmitsAbsentFields(t *testing.T) {
	owner := uint32(3)
	snap := Snapshot{
		Type: TypeSnapshot,
		Entities: []EntityState{
			{ID: 1, Transform: TransformState{X: 1, Y: 2, Scale: 1}},
			{ID: 2, Health: &HealthState{HP: 5, MaxHP: 10}, OwnerClient: &owner},
		},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"snapshot","tick":0,
		"entities":[
			{"id":1,"transform":{"x":1,"y":2,"rotation":0,"scale":1}},
			{"id":2,"transform":{"x":0,"y":0,"rotation":0,"scale":0},"health":{"hp":5,"maxHp":10},"owner_client":3}
		]
	}`, string(data))
}

func TestMarshalUnmarshal(t *testing.T) {
	buf, err := Marshal(NewLobbyResponse(ResponseCreated, "AB12"))
	require.NoError(t, err)
	in, err := Unmarshal(buf)
	require.NoError(t, err)
	var resp LobbyResponse
	require.NoError(t, in.Decode(&resp))
	assert.Equal(t, TypeLobbyResponse, resp.Type)
	assert.Equal(t, "AB12", resp.LobbyCode)

	_, err = Unmarshal(buf[:4])
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
