package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/murmurbot/murmur/internal/envelope"
)

type PingHandler struct {
	logger *slog.Logger
}

func NewPingHandler(log *slog.Logger) *PingHandler {
	return &PingHandler{logger: log.With(slog.String("handler", "ping"))}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Processor runs one raw envelope through the message pipeline.
type Processor interface {
	Process(ctx context.Context, raw envelope.RawEnvelope) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EnvelopeHandler accepts raw envelopes over REST and over a websocket push
// stream. Each envelope is processed independently; a bad one is reported
// and the stream continues.
type EnvelopeHandler struct {
	processor Processor
	logger    *slog.Logger
}

func NewEnvelopeHandler(log *slog.Logger, processor Processor) *EnvelopeHandler {
	return &EnvelopeHandler{
		processor: processor,
		logger:    log.With(slog.String("handler", "envelope")),
	}
}

func (h *EnvelopeHandler) Register(e *echo.Echo) {
	e.POST("/api/v1/envelopes", h.Post)
	e.GET("/ws/envelopes", h.Stream)
}

// Post ingests a single envelope. A decode failure is the caller's fault
// and comes back as 422; transport-level JSON errors as 400.
func (h *EnvelopeHandler) Post(c echo.Context) error {
	var raw envelope.RawEnvelope
	if err := c.Bind(&raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid envelope payload")
	}
	if err := h.processor.Process(c.Request().Context(), raw); err != nil {
		h.logger.Warn("envelope rejected",
			slog.Int64("msg_id", raw.MsgID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Stream reads envelopes pushed by the transport over a websocket. One
// malformed or undecodable frame never tears down the connection.
func (h *EnvelopeHandler) Stream(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return err
	}
	defer ws.Close()

	h.logger.Info("envelope stream connected", slog.String("remote", ws.RemoteAddr().String()))

	ctx := c.Request().Context()
	for {
		var raw envelope.RawEnvelope
		if err := ws.ReadJSON(&raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("envelope stream closed unexpectedly", slog.Any("error", err))
			}
			return nil
		}
		// Each envelope runs on its own goroutine so a slow reply stream
		// for one conversation never stalls the read loop for the rest.
		go func(raw envelope.RawEnvelope) {
			if err := h.processor.Process(ctx, raw); err != nil {
				h.logger.Warn("envelope rejected",
					slog.Int64("msg_id", raw.MsgID),
					slog.Any("error", err),
				)
			}
		}(raw)
	}
}
