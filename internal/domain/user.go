package domain

import "time"

// UserProfile описывает пользователя, вошедшем через внешнего провайдера.
type UserProfile struct {
	UID         string
	Email       string
	DisplayName string
	LastLoginAt time.Time
	CreatedAt   time.Time
}

// Merge накладывает непустые поля update поверх текущего профиля.
func (p UserProfile) Merge(update UserProfile) UserProfile {
	merged := p
	if merged.UID == "" {
		merged.UID = update.UID
	}
	if update.Email != "" {
		merged.Email = update.Email
	}
	if update.DisplayName != "" {
		merged.DisplayName = update.DisplayName
	}
	if !update.LastLoginAt.IsZero() {
		merged.LastLoginAt = update.LastLoginAt
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = update.CreatedAt
	}
	return merged
}
