package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"assetrules/internal/db"
	"assetrules/internal/editor"
	"assetrules/internal/models"
	"assetrules/internal/rules"
	"assetrules/internal/web/middleware"
	webModels "assetrules/internal/web/models"
)

// EngineHooks lets the API notify the engine about ruleset changes.
type EngineHooks interface {
	RefreshRulesetAssociations(ctx context.Context, rulesetID int64) error
	RemoveRulesetAssociations(ctx context.Context, rulesetID int64) error
	TriggerRulesetEvaluation(rulesetID int64)
}

// SchedulerHooks lets the API keep timer jobs in step with ruleset edits.
type SchedulerHooks interface {
	ReloadRuleset(ctx context.Context, rulesetID int64) error
	RemoveRuleset(rulesetID int64)
}

// RegisterRulesetRoutes wires the realm-scoped ruleset CRUD API.
func RegisterRulesetRoutes(router *gin.Engine, mw *middleware.Manager, database *db.DB, engine EngineHooks, sched SchedulerHooks, log *zap.SugaredLogger) {
	log = log.Named("api")
	r := router.Group("/rulesets")
	r.Use(mw.RequireAuth())
	{
		r.GET("", func(c *gin.Context) {
			rc := middleware.RealmContext(c)
			scope := models.RulesetScope(c.DefaultQuery("scope", string(models.ScopeRealm)))
			filter := editor.ListFilter{
				AssetID:     c.Query("assetId"),
				Lang:        models.RulesetLang(c.Query("lang")),
				EnabledOnly: c.Query("enabledOnly") == "true",
			}
			rulesets, err := database.ListRulesets(c, rc, scope, filter)
			if err != nil {
				log.Errorw("list rulesets failed", "realm", rc.Realm, "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rulesets"})
				return
			}
			c.JSON(http.StatusOK, rulesets)
		})

		r.GET("/:id", func(c *gin.Context) {
			rc := middleware.RealmContext(c)
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
				return
			}
			rs, err := database.GetRuleset(c, rc, id)
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Ruleset not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch ruleset"})
				return
			}
			c.JSON(http.StatusOK, rs)
		})

		r.POST("", mw.RequireRole("write"), func(c *gin.Context) {
			rc := middleware.RealmContext(c)
			var req webModels.AddRulesetRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			rs := models.Ruleset{
				Type:    req.Type,
				Name:    req.Name,
				Enabled: req.Enabled,
				Rules:   req.Rules,
				Lang:    req.Lang,
				Meta:    req.Meta,
				AssetID: req.AssetID,
				Realm:   rc.Realm,
			}
			if err := validateRuleset(&rs); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			id, err := database.CreateRuleset(c, rc, rs)
			if err != nil {
				log.Errorw("create ruleset failed", "realm", rc.Realm, "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create ruleset"})
				return
			}
			created, err := database.GetRuleset(c, rc, id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch created ruleset"})
				return
			}

			notifyChanged(c, engine, sched, log, created)
			c.JSON(http.StatusCreated, created)
		})

		r.PATCH("/:id", mw.RequireRole("write"), func(c *gin.Context) {
			rc := middleware.RealmContext(c)
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
				return
			}
			var req webModels.UpdateRulesetRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}

			existing, err := database.GetRuleset(c, rc, id)
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Ruleset not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch ruleset"})
				return
			}

			applyUpdate(existing, &req)
			if err := validateRuleset(existing); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := database.UpdateRuleset(c, rc, id, *existing); err != nil {
				log.Errorw("update ruleset failed", "ruleset", id, "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update ruleset"})
				return
			}

			notifyChanged(c, engine, sched, log, existing)
			c.JSON(http.StatusOK, existing)
		})

		r.DELETE("/:id", mw.RequireRole("write"), func(c *gin.Context) {
			rc := middleware.RealmContext(c)
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
				return
			}

			if err := engine.RemoveRulesetAssociations(c, id); err != nil {
				log.Warnw("association cleanup failed", "ruleset", id, "err", err)
			}
			sched.RemoveRuleset(id)

			err = database.DeleteRuleset(c, rc, id)
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Ruleset not found"})
				return
			}
			if err != nil {
				log.Errorw("delete ruleset failed", "ruleset", id, "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete ruleset"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "Ruleset deleted"})
		})
	}
}

// validateRuleset applies the entity invariants plus a parse of JSON rule
// bodies, so malformed rules are rejected at the API edge.
func validateRuleset(rs *models.Ruleset) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	if rs.Lang == models.LangJSON && rs.Rules != "" {
		if _, err := rules.ParseRuleBody(rs.Rules); err != nil {
			return err
		}
	}
	if _, err := rs.Validity(); err != nil {
		return err
	}
	return nil
}

func applyUpdate(rs *models.Ruleset, req *webModels.UpdateRulesetRequest) {
	if req.Type != nil {
		rs.Type = *req.Type
	}
	if req.Name != nil {
		rs.Name = *req.Name
	}
	if req.Enabled != nil {
		rs.Enabled = *req.Enabled
	}
	if req.Rules != nil {
		rs.Rules = *req.Rules
	}
	if req.Lang != nil {
		rs.Lang = *req.Lang
	}
	if req.Meta != nil {
		rs.Meta = *req.Meta
	}
	if req.AssetID != nil {
		rs.AssetID = *req.AssetID
	}
}

// notifyChanged refreshes engine associations and timer jobs after a create
// or update, and kicks an immediate evaluation of enabled rulesets. Failures
// are logged, not surfaced: the persisted ruleset is the source of truth.
func notifyChanged(ctx context.Context, engine EngineHooks, sched SchedulerHooks, log *zap.SugaredLogger, rs *models.Ruleset) {
	if err := engine.RefreshRulesetAssociations(ctx, rs.ID); err != nil {
		log.Warnw("association refresh failed", "ruleset", rs.ID, "err", err)
		return
	}
	if err := sched.ReloadRuleset(ctx, rs.ID); err != nil {
		log.Warnw("schedule reload failed", "ruleset", rs.ID, "err", err)
	}
	if rs.Enabled {
		engine.TriggerRulesetEvaluation(rs.ID)
	}
}
