// Package models holds the request and response shapes of the HTTP API.
package models

import (
	"encoding/json"

	"assetrules/internal/models"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Realm    string `json:"realm"`
}

type AddRulesetRequest struct {
	Type    models.RulesetScope        `json:"type" binding:"required"`
	Name    string                     `json:"name" binding:"required"`
	Enabled bool                       `json:"enabled"`
	Rules   string                     `json:"rules"`
	Lang    models.RulesetLang         `json:"lang" binding:"required"`
	Meta    map[string]json.RawMessage `json:"meta"`
	AssetID string                     `json:"assetId"`
}

type UpdateRulesetRequest struct {
	Type    *models.RulesetScope        `json:"type"`
	Name    *string                     `json:"name"`
	Enabled *bool                       `json:"enabled"`
	Rules   *string                     `json:"rules"`
	Lang    *models.RulesetLang         `json:"lang"`
	Meta    *map[string]json.RawMessage `json:"meta"`
	AssetID *string                     `json:"assetId"`
}
