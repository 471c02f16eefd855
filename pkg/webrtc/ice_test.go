package webrtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestICEServers_DefaultSTUNOnly(t *testing.T) {
	t.Setenv("TURN_SERVER_URL", "")
	t.Setenv("TURN_SERVER_USERNAME", "")
	t.Setenv("TURN_SERVER_CREDENTIAL", "")

	servers := ICEServers()

	assert.Len(t, servers, 1)
	assert.Contains(t, servers[0].URLs[0], "stun:")
}

func TestICEServers_WithTURN(t *testing.T) {
	t.Setenv("TURN_SERVER_URL", "turn:turn.example.com:3478")
	t.Setenv("TURN_SERVER_USERNAME", "wavelink")
	t.Setenv("TURN_SERVER_CREDENTIAL", "secret")

	servers := ICEServers()

	assert.Len(t, servers, 2)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, servers[1].URLs)
	assert.Equal(t, "wavelink", servers[1].Username)
	assert.Equal(t, "secret", servers[1].Credential)
}

func TestICEServers_PartialTURNIgnored(t *testing.T) {
	t.Setenv("TURN_SERVER_URL", "turn:turn.example.com:3478")
	t.Setenv("TURN_SERVER_USERNAME", "")
	t.Setenv("TURN_SERVER_CREDENTIAL", "")

	servers := ICEServers()

	assert.Len(t, servers, 1)
}
