package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

var settingKeys = map[string]string{
	"reading":  models.SettingReadingPrompt,
	"drafting": models.SettingDraftingPrompt,
}

type promptPayload struct {
	Prompt string `json:"prompt"`
}

// GetPrompt returns the stored prompt override for the named slot, or
// an empty string when the built-in default is in effect.
func GetPrompt(settingRepository interfaces.SettingRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetPrompt", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		key, ok := settingKeys[c.Param("name")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown prompt"})
			return
		}

		value, err := settingRepository.Get(ctx, key)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "prompt": value})
	}
}

// PutPrompt stores a prompt override; an empty prompt restores the
// built-in default.
func PutPrompt(settingRepository interfaces.SettingRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "PutPrompt", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		key, ok := settingKeys[c.Param("name")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown prompt"})
			return
		}

		var payload promptPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := settingRepository.Put(ctx, key, payload.Prompt); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "prompt": payload.Prompt})
	}
}
