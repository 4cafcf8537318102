package security

import (
	"strings"
	"time"
)

// Preset tier names.
const (
	TierAuth          = "AUTH"
	TierAPI           = "API"
	TierAdmin         = "ADMIN"
	TierUpload        = "UPLOAD"
	TierPasswordReset = "PASSWORD_RESET"
)

// AuthPreset limits login attempts: 5 per 15 minutes, successful logins count.
func AuthPreset() *RateLimitConfig {
	return &RateLimitConfig{
		Name:        TierAuth,
		Window:      15 * time.Minute,
		MaxRequests: 5,
	}
}

// APIPreset is the general API budget: 1000 per 15 minutes, successful requests are refunded.
func APIPreset() *RateLimitConfig {
	return &RateLimitConfig{
		Name:                   TierAPI,
		Window:                 15 * time.Minute,
		MaxRequests:            1000,
		SkipSuccessfulRequests: true,
	}
}

// AdminPreset limits administrative endpoints: 100 per hour.
func AdminPreset() *RateLimitConfig {
	return &RateLimitConfig{
		Name:        TierAdmin,
		Window:      time.Hour,
		MaxRequests: 100,
	}
}

// UploadPreset limits uploads: 50 per hour, successful uploads are refunded.
func UploadPreset() *RateLimitConfig {
	return &RateLimitConfig{
		Name:                   TierUpload,
		Window:                 time.Hour,
		MaxRequests:            50,
		SkipSuccessfulRequests: true,
	}
}

// PasswordResetPreset limits password reset requests: 3 per day.
func PasswordResetPreset() *RateLimitConfig {
	return &RateLimitConfig{
		Name:        TierPasswordReset,
		Window:      24 * time.Hour,
		MaxRequests: 3,
	}
}

// Preset returns a fresh copy of the named preset (case-insensitive).
func Preset(name string) (*RateLimitConfig, bool) {
	switch strings.ToUpper(name) {
	case TierAuth:
		return AuthPreset(), true
	case TierAPI:
		return APIPreset(), true
	case TierAdmin:
		return AdminPreset(), true
	case TierUpload:
		return UploadPreset(), true
	case TierPasswordReset:
		return PasswordResetPreset(), true
	default:
		return nil, false
	}
}
