// Package webrtc builds the ICE server configuration handed to clients for
// peer-connection setup. Only configuration is produced here; media never
// touches this service.
package webrtc

import (
	"github.com/pion/webrtc/v4"

	"wavelink-backend/pkg/env"
)

// Config is the peer-connection bootstrap handed to clients
type Config struct {
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
	MaxBitrate int                `json:"max_bitrate_kbps"`
	AudioCodec string             `json:"audio_codec"`
	VideoCodec string             `json:"video_codec"`
}

// defaultSTUNServers are public STUN endpoints used when no TURN is configured
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// ICEServers returns the STUN/TURN server list for client peer connections.
// TURN relay is added only when fully configured via environment.
func ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: defaultSTUNServers},
	}

	turnURL := env.GetString("TURN_SERVER_URL", "")
	turnUsername := env.GetStringFromFile("TURN_SERVER_USERNAME", "")
	turnCredential := env.GetStringFromFile("TURN_SERVER_CREDENTIAL", "")

	if turnURL != "" && turnUsername != "" && turnCredential != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUsername,
			Credential: turnCredential,
		})
	}

	return servers
}

// NewConfig returns the full client-side WebRTC configuration
func NewConfig() *Config {
	return &Config{
		ICEServers: ICEServers(),
		MaxBitrate: env.GetInt("WEBRTC_MAX_BITRATE_KBPS", 2500),
		AudioCodec: env.GetString("WEBRTC_AUDIO_CODEC", "opus"),
		VideoCodec: env.GetString("WEBRTC_VIDEO_CODEC", "vp8"),
	}
}
