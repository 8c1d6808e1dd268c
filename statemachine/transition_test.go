package statemachine

import (
	"testing"

	"github.com/rigado/profile"
	"github.com/stretchr/testify/assert"
)

const (
	disconnected  = profile.StateDisconnected
	connecting    = profile.StateConnecting
	connected     = profile.StateConnected
	disconnecting = profile.StateDisconnecting
)

func evt(s profile.State, admitted bool) Input {
	return Input{Kind: InputStackEvent, State: s, Admitted: admitted}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name string
		from profile.State
		in   Input
		want Step
	}{
		{"disconnected connect", disconnected, Input{Kind: InputConnect, Admitted: true},
			Step{Command: CommandConnect, Next: connecting, OnReject: disconnected}},
		{"disconnected connect refused", disconnected, Input{Kind: InputConnect},
			Step{Next: disconnected, OnReject: disconnected, Note: "outgoing connection rejected"}},
		{"disconnected disconnect", disconnected, Input{Kind: InputDisconnect},
			Step{Next: disconnected, OnReject: disconnected, Note: "already disconnected"}},
		{"disconnected incoming connecting", disconnected, evt(connecting, true),
			Step{Next: connecting, OnReject: connecting}},
		{"disconnected incoming connected", disconnected, evt(connected, true),
			Step{Next: connected, OnReject: connected}},
		{"disconnected incoming rejected", disconnected, evt(connected, false),
			Step{Command: CommandDisconnect, Next: disconnected, OnReject: disconnected, Note: "incoming connection rejected"}},

		{"connecting connect deferred", connecting, Input{Kind: InputConnect},
			Step{Next: connecting, OnReject: connecting, Defer: true}},
		{"connecting disconnect", connecting, Input{Kind: InputDisconnect},
			Step{Command: CommandDisconnect, Next: disconnected, OnReject: disconnected}},
		{"connecting timeout", connecting, Input{Kind: InputTimeout},
			Step{Command: CommandDisconnect, Next: connecting, OnReject: connecting, Synthesize: true}},
		{"connecting connected", connecting, evt(connected, false), Step{Next: connected, OnReject: connected}},
		{"connecting disconnected", connecting, evt(disconnected, false), Step{Next: disconnected, OnReject: disconnected}},
		{"connecting disconnecting", connecting, evt(disconnecting, false), Step{Next: disconnecting, OnReject: disconnecting}},

		{"connected connect", connected, Input{Kind: InputConnect},
			Step{Next: connected, OnReject: connected, Note: "already connected"}},
		{"connected disconnect", connected, Input{Kind: InputDisconnect},
			Step{Command: CommandDisconnect, Next: disconnecting, OnReject: disconnected}},
		{"connected disconnected", connected, evt(disconnected, false), Step{Next: disconnected, OnReject: disconnected}},
		{"connected disconnecting", connected, evt(disconnecting, false), Step{Next: disconnecting, OnReject: disconnecting}},

		{"disconnecting connect deferred", disconnecting, Input{Kind: InputConnect},
			Step{Next: disconnecting, OnReject: disconnecting, Defer: true}},
		{"disconnecting disconnect deferred", disconnecting, Input{Kind: InputDisconnect},
			Step{Next: disconnecting, OnReject: disconnecting, Defer: true}},
		{"disconnecting timeout", disconnecting, Input{Kind: InputTimeout},
			Step{Command: CommandDisconnect, Next: disconnecting, OnReject: disconnecting, Synthesize: true}},
		{"disconnecting disconnected", disconnecting, evt(disconnected, false), Step{Next: disconnected, OnReject: disconnected}},
		{"disconnecting incoming connected", disconnecting, evt(connected, true), Step{Next: connected, OnReject: connected}},
		{"disconnecting incoming connecting", disconnecting, evt(connecting, true), Step{Next: connecting, OnReject: connecting}},
		{"disconnecting incoming rejected", disconnecting, evt(connecting, false),
			Step{Command: CommandDisconnect, Next: disconnecting, OnReject: disconnecting, Note: "incoming connection rejected"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, tt.in))
		})
	}
}

func TestNeedsAdmission(t *testing.T) {
	assert.True(t, NeedsAdmission(disconnected, Input{Kind: InputConnect}))
	assert.False(t, NeedsAdmission(connected, Input{Kind: InputConnect}))
	assert.True(t, NeedsAdmission(disconnected, evt(connecting, false)))
	assert.True(t, NeedsAdmission(disconnecting, evt(connected, false)))
	assert.False(t, NeedsAdmission(connecting, evt(connected, false)))
	assert.False(t, NeedsAdmission(disconnected, evt(disconnected, false)))
}

func TestEffects(t *testing.T) {
	assert.Nil(t, Effects(connected, connected))

	assert.Equal(t, []Effect{
		{Kind: EffectStartTimer, From: disconnected, To: connecting},
		{Kind: EffectBroadcast, From: disconnected, To: connecting},
	}, Effects(disconnected, connecting))

	assert.Equal(t, []Effect{
		{Kind: EffectCancelTimer, From: connecting, To: connected},
		{Kind: EffectBroadcast, From: connecting, To: connected},
		{Kind: EffectConnectionChanged, From: connecting, To: connected},
	}, Effects(connecting, connected))

	assert.Equal(t, []Effect{
		{Kind: EffectStartTimer, From: connected, To: disconnecting},
		{Kind: EffectBroadcast, From: connected, To: disconnecting},
		{Kind: EffectConnectionChanged, From: connected, To: disconnecting},
	}, Effects(connected, disconnecting))
}
