package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

// ListAccounts returns all registered accounts.
func ListAccounts(accountRepository interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListAccounts", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accounts, err := accountRepository.List(ctx, false)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

// AddAccount registers a mailbox and starts watching it.
func AddAccount(accountRepository interfaces.AccountRepository, watcherService interfaces.WatcherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "AddAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var account models.Account
		if err := c.ShouldBindJSON(&account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if account.EmailAddress == "" || account.ImapServer == "" || account.ImapUsername == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "emailAddress, imapServer and imapUsername are required"})
			return
		}

		existing, err := accountRepository.GetByEmailAddress(ctx, account.EmailAddress)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "account already exists", "id": existing.ID})
			return
		}

		account.Active = true
		if err := accountRepository.Create(ctx, &account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := watcherService.AddAccount(ctx, &account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account added", "id": account.ID})
	}
}

// RemoveAccount stops the watcher and deactivates the account.
func RemoveAccount(accountRepository interfaces.AccountRepository, watcherService interfaces.WatcherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RemoveAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagAccount(span, id)

		if err := watcherService.RemoveAccount(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := accountRepository.Deactivate(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": id})
	}
}
