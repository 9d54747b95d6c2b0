package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
)

const wsLogPrefix = "transport:websocket"

const (
	wsReadBuffer   = 1024
	wsWriteBuffer  = 1024
	wsReadLimit    = 10 << 20
	wsWriteTimeout = 10 * time.Second
)

// newWebSocketHandler serves calls over a WebSocket: each text message is a
// CallRequest answered by one CallResponse, in order.
func newWebSocketHandler(d *api.Dispatcher, allowedOrigins []string, timeout time.Duration) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		CheckOrigin:     wsOriginValidator(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := mux.Vars(r)["username"]
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - upgrade failed: %v", wsLogPrefix, err))
			return
		}
		defer conn.Close()
		conn.SetReadLimit(wsReadLimit)
		slog.Debug(fmt.Sprintf("%s - connection opened for %s from %s", wsLogPrefix, username, r.RemoteAddr))

		serveWebSocket(r.Context(), conn, d, username, timeout)
	})
}

func serveWebSocket(ctx context.Context, conn *websocket.Conn, d *api.Dispatcher, username string, timeout time.Duration) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug(fmt.Sprintf("%s - read failed: %v", wsLogPrefix, err))
			}
			return
		}

		var resp *CallResponse
		var req CallRequest
		if err := json.Unmarshal(data, &req); err != nil {
			resp = errorResponse("", apierrors.InvalidRequestStructure("Invalid call envelope: "+err.Error()))
		} else {
			resp = invoke(ctx, d, &req, username, api.SourceWebSocket, timeout)
		}
		if err := writeWS(conn, resp); err != nil {
			slog.Debug(fmt.Sprintf("%s - write failed: %v", wsLogPrefix, err))
			return
		}
	}
}

func writeWS(conn *websocket.Conn, resp *CallResponse) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(resp)
}

// wsOriginValidator accepts requests without an Origin header, any origin when
// allowed contains "*" or is empty, and otherwise origins whose scheme and
// host match an allowed entry.
func wsOriginValidator(allowed []string) func(*http.Request) bool {
	origins := map[string]bool{}
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if origins[strings.ToLower(u.Scheme+"://"+u.Host)] {
			return true
		}
		slog.Warn(fmt.Sprintf("%s - rejected connection from origin %s", wsLogPrefix, origin))
		return false
	}
}
