package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/vultisig-gather/contexthelper"
	"github.com/vultisig/vultisig-gather/interaction"
)

type interactionResponse struct {
	Delivered int `json:"delivered"`
}

// PostInteraction accepts a raw event from a session participant, normalizes
// it and pushes it to the inputs waiting on it.
func (s *Server) PostInteraction(c echo.Context) error {
	ctx := c.Request().Context()
	if contexthelper.CheckCancellation(ctx) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	var ev interaction.Event
	if err := c.Bind(&ev); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	participants, err := s.s.GetSession(ctx, sessionID)
	if err != nil {
		c.Logger().Errorf("fail to get session %s, err: %s", sessionID, err)
		return c.NoContent(http.StatusInternalServerError)
	}
	if !slices.Contains(participants, strings.TrimSpace(ev.Participant)) {
		return c.NoContent(http.StatusForbidden)
	}
	i, err := interaction.Normalize(ev, s.dispatcher)
	if errors.Is(err, interaction.ErrUnaddressable) {
		c.Logger().Debugf("session %s: %s", sessionID, err)
		return c.NoContent(http.StatusUnprocessableEntity)
	}
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	return c.JSON(http.StatusAccepted, interactionResponse{Delivered: s.registry.Push(ctx, i)})
}
