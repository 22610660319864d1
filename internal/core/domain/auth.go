package domain

import (
	"errors"
	"time"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

type APIKey struct {
	TokenHash string
	Name      string
	Active    bool
	CreatedAt time.Time
}
