package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tabchat/internal/tabs"
)

// TabHandlers provides HTTP handlers for the tab lifecycle and user
// intents. Blank-input intents are silently ignored and answer with the
// unchanged state, never an error: an empty name or message is expected
// user input, not a fault.
type TabHandlers struct {
	registry *tabs.Registry
	log      *zerolog.Logger
}

// NewTabHandlers creates a new tab handlers instance.
func NewTabHandlers(registry *tabs.Registry, logger *zerolog.Logger) *TabHandlers {
	return &TabHandlers{registry: registry, log: logger}
}

// OpenTabRequest optionally names the execution-context slot to mount.
// An omitted slot opens a brand-new tab; a slot from a previous mount
// is a reload and recovers the persisted identity.
type OpenTabRequest struct {
	Slot string `json:"slot"`
}

// JoinRequest carries the display name chosen by the user.
type JoinRequest struct {
	Name string `json:"name"`
}

// SendRequest carries the message text typed by the user.
type SendRequest struct {
	Text string `json:"text"`
}

// OpenTab mounts a tab.
// POST /api/tabs
func (h *TabHandlers) OpenTab(c *gin.Context) {
	var req OpenTabRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.log.Debug().Err(err).Msg("invalid open tab request")
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	tab, err := h.registry.Open(req.Slot)
	if err != nil {
		h.log.Error().Err(err).Msg("open tab")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to open tab"})
		return
	}

	c.JSON(http.StatusCreated, stateResponse(tab))
}

// TabState returns the tab's current view.
// GET /api/tabs/:slot
func (h *TabHandlers) TabState(c *gin.Context) {
	tab, ok := h.tab(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stateResponse(tab))
}

// CloseTab ends the tab's execution context. Persisted state survives.
// DELETE /api/tabs/:slot
func (h *TabHandlers) CloseTab(c *gin.Context) {
	if !h.registry.Close(c.Param("slot")) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "tab not open"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Join submits the chosen display name.
// POST /api/tabs/:slot/join
func (h *TabHandlers) Join(c *gin.Context) {
	tab, ok := h.tab(c)
	if !ok {
		return
	}

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid join request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	tab.Session.Join(req.Name)
	c.JSON(http.StatusOK, stateResponse(tab))
}

// Send submits a chat message.
// POST /api/tabs/:slot/messages
func (h *TabHandlers) Send(c *gin.Context) {
	tab, ok := h.tab(c)
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	tab.Session.Send(req.Text)
	c.JSON(http.StatusOK, stateResponse(tab))
}

// LoadMore widens the visible history window by one page.
// POST /api/tabs/:slot/load-more
func (h *TabHandlers) LoadMore(c *gin.Context) {
	tab, ok := h.tab(c)
	if !ok {
		return
	}

	tab.Session.LoadMore()
	c.JSON(http.StatusOK, stateResponse(tab))
}

func (h *TabHandlers) tab(c *gin.Context) (*tabs.Tab, bool) {
	tab, ok := h.registry.Get(c.Param("slot"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "tab not open"})
		return nil, false
	}
	return tab, true
}
