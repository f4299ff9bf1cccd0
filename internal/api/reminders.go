package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/carecompanion/internal/device"
	"github.com/ashureev/carecompanion/internal/notify"
)

const (
	reminderWriteTimeout = 10 * time.Second
	reminderPingInterval = 30 * time.Second
)

// streamHello is the first frame on a reminder stream.
type streamHello struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// streamReminder wraps a fired reminder.
type streamReminder struct {
	Type     string      `json:"type"`
	Reminder interface{} `json:"reminder"`
}

// RecentReminders lists the reminders fired most recently, oldest first.
func (h *Handler) RecentReminders(w http.ResponseWriter, _ *http.Request) {
	items := []notify.Reminder{}
	if h.recent != nil {
		items = h.recent.List()
	}
	JSON(w, http.StatusOK, listResponse{Items: items, Notices: notices(nil)})
}

// Reminders streams fired reminders to a websocket client until it leaves.
func (h *Handler) Reminders(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		Error(w, http.StatusServiceUnavailable, "reminders are disabled")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", device.IPFromRequest(r))
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	reminders, cancelSub := h.hub.Subscribe()
	defer cancelSub()

	h.streams.StreamOpened()
	defer h.streams.StreamClosed()

	deviceID := device.IDFromContext(r.Context())
	slog.Info("Reminder stream connected", "device_id", deviceID, "ip", device.IPFromRequest(r))

	// Reads are discarded; CloseRead cancels ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())

	if err := writeFrame(ctx, ws, streamHello{Type: "hello", DeviceID: deviceID}); err != nil {
		slog.Debug("Failed to send hello", "error", err)
		return
	}

	// The subscription is already live, so a reminder firing during the
	// replay can show up in both; replayed ones are skipped below.
	replayed := make(map[replayKey]struct{})
	if h.recent != nil {
		for _, rem := range h.recent.List() {
			replayed[keyOf(rem)] = struct{}{}
			if err := writeFrame(ctx, ws, streamReminder{Type: "missed", Reminder: rem}); err != nil {
				slog.Debug("Failed to replay reminder", "error", err)
				return
			}
		}
	}

	ping := time.NewTicker(reminderPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Reminder stream closed", "device_id", deviceID)
			return
		case rem, ok := <-reminders:
			if !ok {
				return
			}
			if _, dup := replayed[keyOf(rem)]; dup {
				delete(replayed, keyOf(rem))
				continue
			}
			if err := writeFrame(ctx, ws, streamReminder{Type: "reminder", Reminder: rem}); err != nil {
				slog.Debug("Reminder write failed", "error", err)
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, reminderWriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("Reminder stream ping failed", "error", err)
				return
			}
		}
	}
}

type replayKey struct {
	handle  string
	firedAt int64
}

func keyOf(rem notify.Reminder) replayKey {
	return replayKey{handle: rem.Handle, firedAt: rem.FiredAt.UnixNano()}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, reminderWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}
