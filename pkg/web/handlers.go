package web

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pcmstream/pkg/audio"
	"github.com/teslashibe/go-pcmstream/pkg/audioio"
	"github.com/teslashibe/go-pcmstream/pkg/hub"
)

// EnqueueRequest is the JSON body of POST /api/enqueue.
type EnqueueRequest struct {
	Data string `json:"data"` // base64 PCM16 LE mono
}

// EnqueueResponse reports the queue after a chunk was accepted.
type EnqueueResponse struct {
	SessionID   string `json:"session_id"`
	QueuedBytes int    `json:"queued_bytes"`
}

// MetricsResponse is the body of GET /api/metrics.
type MetricsResponse struct {
	Sessions int             `json:"sessions"`
	Current  *audio.Metrics  `json:"current,omitempty"`
	Last     *audio.Metrics  `json:"last,omitempty"`
	Average  audio.Metrics   `json:"average"`
	History  []audio.Metrics `json:"history"`
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// handleEnqueue accepts a chunk either as raw octet-stream or as base64 JSON.
func (s *Server) handleEnqueue(c *fiber.Ctx) error {
	var chunk []byte
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEOctetStream) {
		chunk = c.Body()
	} else {
		var req EnqueueRequest
		if err := c.BodyParser(&req); err != nil {
			s.logger.Warn("dropping malformed enqueue request", "error", err)
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			s.logger.Warn("dropping chunk with invalid base64", "error", err)
			return errorJSON(c, fiber.StatusBadRequest, "invalid base64 data")
		}
		chunk = data
	}

	if err := s.player.Enqueue(chunk); err != nil {
		return s.playerError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EnqueueResponse{
		SessionID:   s.player.SessionID(),
		QueuedBytes: s.player.QueuedBytes(),
	})
}

// handleEnded marks the current stream as complete.
func (s *Server) handleEnded(c *fiber.Ctx) error {
	s.player.MarkEnded()
	return c.JSON(s.player.Snapshot())
}

// handleStop interrupts playback and returns once the device is released.
func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.player.Stop(); err != nil {
		return s.playerError(c, err)
	}
	return c.JSON(s.player.Snapshot())
}

// handleStatus returns the player's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.player.Snapshot())
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	mc := s.player.Metrics()
	resp := MetricsResponse{
		Sessions: mc.Sessions(),
		Average:  mc.Average(),
		History:  mc.History(),
	}
	if m, ok := s.player.SessionMetrics(); ok {
		resp.Current = &m
	}
	if m, ok := mc.Last(); ok {
		resp.Last = &m
	}
	return c.JSON(resp)
}

func (s *Server) playerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, audio.ErrClosed):
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, audio.ErrStopTimeout):
		return errorJSON(c, fiber.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("player request failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
}

// handleStatusWS streams session status events. The most recent event is
// replayed on connect.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	hub.NewClient(s.statusHub, c).Run()
}

// handleStreamWS feeds a producer's websocket into the player. Binary frames
// are PCM chunks; text frames are control messages (see audioio.ParseControl).
// Errors are reported back as {"error": "..."} text frames.
func (s *Server) handleStreamWS(c *websocket.Conn) {
	logger := s.logger.With("remote", c.RemoteAddr().String())
	logger.Debug("stream client connected")
	defer logger.Debug("stream client disconnected")

	reply := func(msg string) {
		c.WriteJSON(fiber.Map{"error": msg})
	}

	for {
		kind, message, err := c.ReadMessage()
		if err != nil {
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			if err := s.player.Enqueue(message); err != nil {
				reply(err.Error())
				return
			}

		case websocket.TextMessage:
			ctrl, err := audioio.ParseControl(message)
			if err != nil {
				logger.Warn("dropping malformed control message", "error", err)
				reply("invalid control message")
				continue
			}

			switch ctrl.Type {
			case audioio.ControlAudio:
				data, err := ctrl.PCM()
				if err != nil {
					logger.Warn("dropping chunk with invalid base64", "error", err)
					reply("invalid base64 data")
					continue
				}
				if err := s.player.Enqueue(data); err != nil {
					reply(err.Error())
					return
				}
			case audioio.ControlEnd:
				s.player.MarkEnded()
			case audioio.ControlStop:
				if err := s.player.Stop(); err != nil {
					reply(err.Error())
				}
			default:
				reply("unknown control type " + ctrl.Type)
			}
		}
	}
}
