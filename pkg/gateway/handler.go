// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/provider"
)

// Provider statuses that mean the remote job is dead. Providers are not
// consistent about casing, so the set carries the variants seen in the
// wild.
var failedCallbackStatuses = map[string]bool{
	"failed":   true,
	"canceled": true,
	"error":    true,
	"ERROR":    true,
}

// callbackEnvelope is the minimal shape sniffed out of a callback body
// before provider-specific parsing. Only the status and error fields
// matter here; output parsing stays with the provider.
type callbackEnvelope struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Handler is the HTTP ingress for provider completion callbacks. The
// route carries a deployment-wide token so unsigned providers still get
// a capability URL, and signed providers are verified on top of it.
type Handler struct {
	gw       *Gateway
	registry *provider.Registry
	token    string
}

// NewHandler creates the callback ingress. The token is required; an
// empty token disables the route at registration time.
func NewHandler(gw *Gateway, registry *provider.Registry, token string) *Handler {
	return &Handler{
		gw:       gw,
		registry: registry,
		token:    token,
	}
}

// RegisterRoutes attaches the callback route to the given group
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) error {
	if h.token == "" {
		log.GlobalLogger().Warn("callback token is not configured, provider callbacks are disabled")
		return nil
	}
	g.POST("/callbacks/:token/:provider/:jobRecordId", h.HandleCallback)
	return nil
}

// HandleCallback turns one provider callback into a terminal job
// transition. Responses use plain HTTP statuses because the audience is
// the provider's delivery machinery: 2xx acknowledges, 4xx drops, 5xx
// asks for a retry.
func (h *Handler) HandleCallback(c *gin.Context) {
	// A wrong token gets the same 404 as a wrong path, so probing the
	// ingress reveals nothing.
	if subtle.ConstantTimeCompare([]byte(c.Param("token")), []byte(h.token)) != 1 {
		c.Status(http.StatusNotFound)
		return
	}

	providerName := c.Param("provider")
	p, err := h.registry.Get(providerName)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if secret := h.registry.CallbackSecret(providerName); secret != "" {
		if err := p.VerifyCallback(c.Request.Header, body, secret); err != nil {
			log.GlobalLogger().Warnf("callback signature rejected for provider %s: %v", providerName, err)
			c.Status(http.StatusUnauthorized)
			return
		}
	}

	jobRecordID := c.Param("jobRecordId")
	job, err := h.gw.facade.GetExecutionJob().Get(c.Request.Context(), jobRecordID)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if job == nil {
		c.Status(http.StatusNotFound)
		return
	}
	if job.IsTerminal() {
		// Late or duplicate delivery; the first writer already settled
		// the job.
		c.Status(http.StatusOK)
		return
	}
	if job.Status != model.JobStatusProcessing || job.ModelID == "" {
		// The callback outran the worker's continuation write. Asking
		// the provider to retry is cheaper than waiting here.
		c.Status(http.StatusServiceUnavailable)
		return
	}

	var envelope callbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if failedCallbackStatuses[envelope.Status] {
		errMsg := envelope.Error
		if errMsg == "" {
			errMsg = "provider reported status " + envelope.Status
		}
		if err := h.gw.Fail(c.Request.Context(), jobRecordID, errMsg); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
		return
	}

	m, err := h.gw.catalog.Get(job.ModelID)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	outputs, err := p.ParseOutputs(m, body)
	if err != nil {
		// The provider says success but the payload does not parse;
		// retrying the same body cannot help.
		if failErr := h.gw.Fail(c.Request.Context(), jobRecordID, errorMessage(err)); failErr != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
		return
	}

	if err := h.gw.Complete(c.Request.Context(), jobRecordID, outputs); err != nil {
		// Rehoming or the transition write failed; provider retries
		// re-enter Complete, which is idempotent.
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}
