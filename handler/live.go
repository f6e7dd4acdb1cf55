package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/usamasarwar188/BG-Remover/middleware"
	"github.com/usamasarwar188/BG-Remover/model"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
	liveBuffer       = 16
)

// Live 通过 websocket 推送背景变更和新帧事件，客户端收到 frame 后重新拉取 preview
func (h *SessionHandler) Live(c *gin.Context) {
	session, found := h.session(c)
	if !found {
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(h.cfg.Server.AllowOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := session.Subscribe(liveBuffer)
	defer cancel()

	// 先发送当前状态
	view := model.NewSpecView(session.Spec(), session.PreviewURL())
	initial := []model.LiveEvent{{Type: model.EventBackground, Background: &view}}
	if frame, seq := session.Surface().Snapshot(); frame != nil {
		b := frame.Bounds()
		initial = append(initial, model.LiveEvent{Type: model.EventFrame, Seq: seq, Width: b.Dx(), Height: b.Dy()})
	}
	for _, ev := range initial {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}

	// 读协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	utils.Logger.Debug("live preview connected", zap.String("session_id", session.ID))
	for {
		select {
		case ev, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(liveWriteTimeout))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			utils.Logger.Debug("live preview disconnected", zap.String("session_id", session.ID))
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev model.LiveEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(ev)
}
