package state

// ErrorKind описывает тип ошибки, отображаемой пользователю и используемой для логики состояния.
type ErrorKind string

const (
	ErrorKindNetworkUnavailable ErrorKind = "NetworkUnavailable"
	ErrorKindAuthFailed         ErrorKind = "AuthFailed"
	ErrorKindValidationFailed   ErrorKind = "ValidationFailed"
	ErrorKindUnauthorized       ErrorKind = "Unauthorized"
	ErrorKindServerError        ErrorKind = "ServerError"
	ErrorKindConfigFailed       ErrorKind = "ConfigFailed"
	ErrorKindUnknown            ErrorKind = "Unknown"
)

// User описывает текущего пользователя, полученного от backend.
// Объект всегда заменяется целиком: частичных обновлений нет.
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	IsAdmin      bool     `json:"isAdmin,omitempty"`
	ProfileImage string   `json:"profileImage,omitempty"`
	Profile      *Profile `json:"profile,omitempty"`
}

// Profile описывает расширенный профиль пользователя с эндпоинта /api/user/profile/.
type Profile struct {
	Bio              string   `json:"bio,omitempty"`
	Location         string   `json:"location,omitempty"`
	Website          string   `json:"website,omitempty"`
	FavoriteCuisines []string `json:"favoriteCuisines,omitempty"`
	RecipesCount     int      `json:"recipesCount"`
	RatingsCount     int      `json:"ratingsCount"`
}

// TokenPair хранит пару bearer-токенов, выданную при входе или регистрации.
// Access прикладывается к каждому аутентифицированному запросу,
// refresh используется ровно один раз за попытку обновления.
type TokenPair struct {
	Access  string `json:"accessToken"`
	Refresh string `json:"refreshToken"`
}
