package model

// FavoriteRequest is the body of PUT /api/songs/:id/favorite
type FavoriteRequest struct {
	IsFavorite *bool `json:"isFavorite" validate:"required"`
}

// MoveRequest is the body of PUT /api/songs/:id/move. A null project id
// moves the song to unfiled.
type MoveRequest struct {
	ProjectID *string `json:"projectId"`
}

// CreateProjectRequest is the body of POST /api/projects
type CreateProjectRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// DeleteProjectResponse reports how many songs went back to unfiled.
type DeleteProjectResponse struct {
	Reassigned int64 `json:"reassigned"`
}

// LoginRequest is the body of POST /api/login
type LoginRequest struct {
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// BoostStyleRequest is the body of POST /api/style/boost
type BoostStyleRequest struct {
	Content string `json:"content" validate:"required,min=1,max=3000"`
}

// ListFilter narrows library listings.
type ListFilter struct {
	ProjectID     *string
	Unfiled       bool
	FavoritesOnly bool
}
