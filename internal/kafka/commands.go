package kafka

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/streamsight/streamsight/internal/models"
)

// Commander is the slice of the registry the command listener drives.
type Commander interface {
	Start(stream models.StreamConfig, detection *models.DetectionConfig) (string, error)
	Stop(id string) error
}

// ListenCommands reads service commands from the consumer and applies them
// until ctx is done. Malformed or failed commands are logged and marked so
// they are not redelivered forever.
func ListenCommands(ctx context.Context, consumer *Consumer, commander Commander) {
	consumer.StartListening(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-consumer.Messages():
			if !ok {
				return
			}
			handleCommand(commander, msg.Value)
			msg.Session.MarkMessage(msg.Message, "")
		}
	}
}

func handleCommand(commander Commander, payload []byte) {
	var cmd models.ServiceCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Warn().Err(err).Msg("malformed service command")
		return
	}

	switch cmd.Action {
	case models.CommandStart:
		if cmd.Stream == nil {
			log.Warn().Msg("start command without stream config")
			return
		}
		id, err := commander.Start(*cmd.Stream, cmd.Detection)
		if err != nil {
			log.Warn().Str("url", cmd.Stream.URL).Err(err).Msg("start command rejected")
			return
		}
		log.Info().Str("service_id", id).Msg("service started by command")
	case models.CommandStop:
		if err := commander.Stop(cmd.ServiceID); err != nil {
			log.Warn().Str("service_id", cmd.ServiceID).Err(err).Msg("stop command rejected")
			return
		}
		log.Info().Str("service_id", cmd.ServiceID).Msg("service stopped by command")
	default:
		log.Warn().Str("action", string(cmd.Action)).Msg("unknown command action")
	}
}
