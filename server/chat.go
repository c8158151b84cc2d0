package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/prochat/prochat/ai/orchestrator"
)

// chatStreamRequest starts a new generation turn.
type chatStreamRequest struct {
	ThreadID       int32    `json:"threadId"`
	Content        string   `json:"content"`
	ModelID        string   `json:"modelId"`
	ThinkingLevel  string   `json:"thinkingLevel,omitempty"`
	AttachmentUIDs []string `json:"attachmentUids,omitempty"`
	ClientContext  string   `json:"clientContext,omitempty"`
}

// chatResumeRequest reattaches to a pending stream.
type chatResumeRequest struct {
	StreamID string `json:"streamId"`
}

func (s *Server) handleChatStream(c echo.Context) error {
	var req chatStreamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed request body"})
	}

	// The request context doubles as the disconnect signal: when the
	// client goes away mid-stream, the orchestrator parks the turn
	// pending instead of finishing it.
	events := s.orchestrator.Run(c.Request().Context(), &orchestrator.StartRequest{
		ThreadID:       req.ThreadID,
		Content:        req.Content,
		ModelID:        req.ModelID,
		ThinkingLevel:  req.ThinkingLevel,
		AttachmentUIDs: req.AttachmentUIDs,
		ClientContext:  req.ClientContext,
	})
	return streamEvents(c, events)
}

func (s *Server) handleChatResume(c echo.Context) error {
	var req chatResumeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed request body"})
	}
	if strings.TrimSpace(req.StreamID) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "streamId is required"})
	}

	events := s.orchestrator.Resume(c.Request().Context(), req.StreamID)
	return streamEvents(c, events)
}

// streamEvents translates orchestrator events to SSE frames, flushing
// after each one. A write failure means the client detached; returning
// stops consuming and the request context cancellation reaches the
// orchestrator.
func streamEvents(c echo.Context, events <-chan orchestrator.Event) error {
	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set(echo.HeaderCacheControl, "no-cache")
	response.Header().Set(echo.HeaderConnection, "keep-alive")
	response.Header().Set("X-Accel-Buffering", "no")
	response.WriteHeader(http.StatusOK)
	response.Flush()

	for event := range events {
		if err := writeSSE(response, event); err != nil {
			slog.Debug("client disconnected mid-stream", "error", err)
			return nil
		}
		response.Flush()
	}
	return nil
}

func writeSSE(response *echo.Response, event orchestrator.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(response, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
