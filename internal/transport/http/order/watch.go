package order

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/dto"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/response"
	"github.com/Additional-Code/loadmatch/internal/watch"
)

const keepAlive = 15 * time.Second

type snapshotEvent struct {
	Orders []dto.OrderResponse `json:"orders"`
	At     time.Time           `json:"at"`
}

// watch streams live snapshots of the filtered list as Server-Sent Events.
func (h *Handler) watch(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return response.New(c).Fail(err)
	}

	ctx := c.Request().Context()
	snapshots := h.svc.Watch(ctx, f)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if err := writeSnapshot(w, snap); err != nil {
				h.logger.Debug("watch stream closed", zap.Error(err))
				return nil
			}
		}
	}
}

func writeSnapshot(w *echo.Response, snap watch.Snapshot) error {
	payload, err := json.Marshal(snapshotEvent{Orders: dto.FromOrders(snap.Orders), At: snap.At})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
