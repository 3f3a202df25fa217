package models

import "github.com/golang-jwt/jwt/v5"

// ActorClaims represents the JWT payload identifying the calling actor.
type ActorClaims struct {
	UserID string    `json:"user_id"`
	Role   ActorRole `json:"role"`
	ClubID string    `json:"club_id,omitempty"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
