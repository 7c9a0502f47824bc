package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voxlab/voxlab/internal/metrics"
)

// mqttEnvelope is the audio submission payload on the intake topic.
type mqttEnvelope struct {
	SessionID string `json:"session_id"`
	MIMEType  string `json:"mime_type"`
	Audio     string `json:"audio_base64"`
	Name      string `json:"name,omitempty"`
}

// HandleMQTT ingests one MQTT audio message. The envelope names its
// target session; an unknown session is created on the fly so remote
// publishers need no REST round-trip first.
func (l *Loader) HandleMQTT(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()

	var env mqttEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		l.log.Warn().Err(err).Str("topic", topic).Msg("Dropping malformed MQTT envelope")
		return
	}
	if env.SessionID == "" {
		l.log.Warn().Str("topic", topic).Msg("Dropping MQTT envelope without session_id")
		return
	}

	data, err := base64.StdEncoding.DecodeString(env.Audio)
	if err != nil {
		l.log.Warn().Err(err).Str("session_id", env.SessionID).Msg("Dropping MQTT envelope with bad audio encoding")
		return
	}
	if len(data) == 0 {
		l.log.Warn().Str("session_id", env.SessionID).Msg("Dropping empty MQTT audio")
		return
	}

	sess := l.sessions.GetOrCreate(env.SessionID)
	name := env.Name
	if name == "" {
		name = fmt.Sprintf("mqtt-%d", time.Now().UnixMilli())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if _, err := l.LoadFile(ctx, sess, data, name, env.MIMEType); err != nil {
		l.log.Error().Err(err).Str("session_id", env.SessionID).Msg("MQTT audio load failed")
		return
	}
	l.log.Debug().Str("session_id", env.SessionID).Int("bytes", len(data)).Msg("MQTT audio ingested")
}
