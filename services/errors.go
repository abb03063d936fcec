package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound = errors.New("requested resource not found")

	// Ошибки валидации и контракта
	ErrValidationFailed  = errors.New("validation failed")
	ErrInvalidPagination = errors.New("invalid pagination parameters")
	ErrInvalidIdentity   = errors.New("exactly one of user id or guest id is required")

	// Ошибки конфликтов
	ErrDuplicateResult = errors.New("result already recorded for this tournament and user")

	// Ошибки аутентификации и авторизации
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")

	// Ошибки, специфичные для сущностей
	ErrPrivateTournamentNotFound = errors.New("private tournament not found")

	// Инфраструктура
	ErrStorageNotConfigured = errors.New("object storage is not configured")
)
