package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

// ListMessages returns stored messages for an account, optionally
// filtered on the processed flag via ?processed=true|false.
func ListMessages(messageRepository interfaces.MessageRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		filter := interfaces.MessageFilter{AccountID: c.Query("accountId")}
		if raw := c.Query("processed"); raw != "" {
			processed, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "processed must be true or false"})
				return
			}
			filter.Processed = &processed
		}

		messages, err := messageRepository.List(ctx, filter)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})
	}
}

func GetMessage(messageRepository interfaces.MessageRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessage(span, id)

		message, err := messageRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if message == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusOK, message)
	}
}

// UpdateDraft edits a stored draft before sending.
func UpdateDraft(messageRepository interfaces.MessageRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "UpdateDraft", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessage(span, id)

		var payload dto.UpdateDraftRequest
		if err := c.ShouldBindJSON(&payload); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		message, err := messageRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if message == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}

		message.Draft = payload.Draft
		if err := messageRepository.Update(ctx, message); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, message)
	}
}

// SendDraft sends the stored (or inline-updated) draft as a reply.
func SendDraft(triageService interfaces.TriageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SendDraft", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessage(span, id)

		var payload dto.UpdateDraftRequest
		_ = c.ShouldBindJSON(&payload)

		if err := triageService.SendDraft(ctx, id, payload.Draft); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "id": id})
	}
}

// ProcessPending drains the account's unprocessed queue on demand.
func ProcessPending(triageService interfaces.TriageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ProcessPending", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accountID := c.Param("id")
		tracing.TagAccount(span, accountID)

		if err := triageService.ProcessPending(ctx, accountID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "processed", "accountId": accountID})
	}
}

// ReprocessAll clears the processed flags so triage revisits everything.
func ReprocessAll(messageRepository interfaces.MessageRepository, triageService interfaces.TriageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ReprocessAll", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accountID := c.Param("id")
		tracing.TagAccount(span, accountID)

		if err := messageRepository.ClearProcessed(ctx, accountID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := triageService.ProcessPending(ctx, accountID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reprocessed", "accountId": accountID})
	}
}
