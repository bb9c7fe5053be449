package apiclient

import (
	"fmt"
	"strings"

	"veganrecipes/client/internal/state"
)

// Пути эндпоинтов backend, которые использует клиент.
const (
	PathCSRF         = "/api/auth/csrf/"
	PathLogin        = "/api/auth/login/"
	PathRegister     = "/api/auth/register/"
	PathLogout       = "/api/auth/logout/"
	PathMe           = "/api/auth/me/"
	PathTokenRefresh = "/api/auth/token/refresh/"
	PathUserProfile  = "/api/user/profile/"
)

// LoginRequest описывает тело запроса /api/auth/login/.
// Identifier может быть как именем пользователя, так и email: различает backend.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// RegisterRequest описывает тело запроса /api/auth/register/.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest описывает тело запроса /api/auth/token/refresh/.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// CSRFResponse содержит токен, продублированный в теле ответа /api/auth/csrf/.
type CSRFResponse struct {
	CSRFToken string `json:"CSRFToken"`
}

// RefreshResponse содержит новую пару токенов после обновления.
// Refresh присутствует только при ротации.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// AuthResponse соответствует ответам /api/auth/login/ и /api/auth/register/.
type AuthResponse struct {
	User    *UserDTO `json:"user,omitempty"`
	Access  string   `json:"access,omitempty"`
	Refresh string   `json:"refresh,omitempty"`
}

// UserDTO соответствует объекту пользователя в ответах backend.
type UserDTO struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	IsAdmin      bool        `json:"isAdmin"`
	ProfileImage string      `json:"profileImage"`
	Profile      *ProfileDTO `json:"profile,omitempty"`
}

// ProfileDTO соответствует ответу /api/user/profile/.
type ProfileDTO struct {
	Bio              string   `json:"bio"`
	Location         string   `json:"location"`
	Website          string   `json:"website"`
	FavoriteCuisines []string `json:"favoriteCuisines"`
	RecipesCount     int      `json:"recipesCount"`
	RatingsCount     int      `json:"ratingsCount"`
}

// Validate преобразует DTO в бизнес-модель User, выполняя проверки.
func (dto *UserDTO) Validate() (*state.User, error) {
	if dto == nil {
		return nil, fmt.Errorf("user payload is empty")
	}
	if strings.TrimSpace(dto.ID) == "" {
		return nil, fmt.Errorf("user id is empty")
	}
	if strings.TrimSpace(dto.Username) == "" {
		return nil, fmt.Errorf("user %s: username is empty", dto.ID)
	}
	user := &state.User{
		ID:           dto.ID,
		Username:     dto.Username,
		Email:        dto.Email,
		IsAdmin:      dto.IsAdmin,
		ProfileImage: dto.ProfileImage,
	}
	if dto.Profile != nil {
		user.Profile = dto.Profile.Validate()
	}
	return user, nil
}

// Validate преобразует DTO в Profile.
func (dto *ProfileDTO) Validate() *state.Profile {
	if dto == nil {
		return nil
	}
	return &state.Profile{
		Bio:              dto.Bio,
		Location:         dto.Location,
		Website:          dto.Website,
		FavoriteCuisines: normalizeList(dto.FavoriteCuisines),
		RecipesCount:     dto.RecipesCount,
		RatingsCount:     dto.RatingsCount,
	}
}

func normalizeList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		result = append(result, value)
	}
	return result
}
