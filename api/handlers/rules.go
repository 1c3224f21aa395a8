package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

// GetRules returns the account's ordered whitelist.
func GetRules(ruleRepository interfaces.RuleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetRules", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accountID := c.Param("id")
		tracing.TagAccount(span, accountID)

		rules, err := ruleRepository.GetForAccount(ctx, accountID)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

// PutRules replaces the account's whitelist and kicks off a
// reconciliation run against the new rules.
func PutRules(ruleRepository interfaces.RuleRepository, reconcileService interfaces.ReconcileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "PutRules", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accountID := c.Param("id")
		tracing.TagAccount(span, accountID)

		var payload dto.RulesPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rules := make([]*models.WhitelistRule, 0, len(payload.Rules))
		for position, rule := range payload.Rules {
			ruleType := enum.RuleType(rule.Type)
			switch ruleType {
			case enum.RuleSender, enum.RuleSubject, enum.RuleClassification:
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rule type: " + rule.Type})
				return
			}
			rules = append(rules, &models.WhitelistRule{
				AccountID: accountID,
				Position:  position,
				Type:      ruleType,
				Value:     rule.Value,
			})
		}

		if err := ruleRepository.ReplaceForAccount(ctx, accountID, rules); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		jobID, err := reconcileService.Trigger(ctx, accountID)
		if err != nil {
			// rules are saved; the caller can re-trigger reconciliation
			tracing.TraceErr(span, err)
			c.JSON(http.StatusAccepted, gin.H{"status": "rules saved, reconciliation busy", "jobId": jobID})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "rules saved", "jobId": jobID})
	}
}

// GetReconcileStatus reports the state of the background reconciliation.
func GetReconcileStatus(reconcileService interfaces.ReconcileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, reconcileService.Status())
	}
}
