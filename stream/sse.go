package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

const keepAliveInterval = 25 * time.Second

// Authorizer decides whether a user may subscribe to a board's events.
type Authorizer interface {
	Authorize(ctx context.Context, boardID, userID string) (domain.Role, error)
}

// Authenticator extracts the user id from an Authorization header value.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Register wires the board event stream endpoint on the given Echo instance.
func Register(e *echo.Echo, hub *Hub, guard Authorizer, auth Authenticator) {
	e.GET("/api/boards/:id/stream", streamBoard(hub, guard, auth))
}

// streamBoard serves one SSE connection subscribed to a single board. The
// access check runs before the connection joins the board group, so events
// never reach a client the guard would refuse.
func streamBoard(hub *Hub, guard Authorizer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may arrive as a
		// query parameter instead.
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		boardID := c.Param("id")
		if _, err := guard.Authorize(c.Request().Context(), boardID, userID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return c.String(http.StatusNotFound, domain.ErrNotFound.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "internal server error")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)

		ch := hub.Join(boardID)
		defer hub.Leave(boardID, ch)

		if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-keepAlive.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				if err := writeEvent(c, ev); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(c echo.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		c.Logger().Error(err)
		return nil
	}
	if _, err := c.Response().Write([]byte("event: " + ev.Type + "\n")); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	_, err = c.Response().Write([]byte("\n\n"))
	return err
}
