package chatws

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	chatcli "github.com/streamhive/chat-relay/chat-cli"
	"github.com/streamhive/chat-relay/chat-ws/connectiondao"
)

// broadcast fans a payload out to every live connection in a room, skipping
// excludeID when set. Each target failure is isolated: the stale record is
// deleted from the registry and the remaining sends continue.
func (h *Handler) broadcast(ctx context.Context, logger zerolog.Logger, roomID, excludeID string, data []byte) {
	conns, err := h.Connections.QueryByRoom(ctx, roomID)
	if err != nil {
		logger.Error().Err(err).Str("room_id", roomID).Msg("failed to query room connections")
		return
	}

	if len(conns) == 0 {
		return
	}

	concurrency := h.Concurrency
	if concurrency <= 0 {
		concurrency = 50
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, conn := range conns {
		if conn.ConnectionID == excludeID {
			continue
		}
		conn := conn
		g.Go(func() error {
			h.sendToConnection(ctx, logger, conn, data)
			return nil
		})
	}

	g.Wait()
}

func (h *Handler) sendToConnection(ctx context.Context, logger zerolog.Logger, conn connectiondao.Connection, data []byte) {
	err := h.Sender.Send(ctx, conn.Endpoint, conn.ConnectionID, data)
	if err == nil {
		return
	}

	if IsGone(err) {
		logger.Info().
			Str("target_connection_id", conn.ConnectionID).
			Msg("connection gone, cleaning up")
	} else {
		logger.Warn().Err(err).
			Str("target_connection_id", conn.ConnectionID).
			Msg("failed to post to connection, cleaning up")
	}

	if h.Metrics != nil {
		h.Metrics.Event(ctx, chatcli.StaleConnectionsMetric)
	}
	if err := h.Connections.Delete(ctx, conn.ConnectionID); err != nil {
		logger.Error().Err(err).
			Str("target_connection_id", conn.ConnectionID).
			Msg("failed to delete stale connection")
	}
}
