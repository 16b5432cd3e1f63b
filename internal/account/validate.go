package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"goodhome/internal/goodhome"
)

var (
	// ErrInvalidAuth means the vendor rejected the credentials
	ErrInvalidAuth = errors.New("invalid_auth")

	// ErrCannotConnect means the vendor could not be reached or answered
	// with something other than a verdict on the credentials
	ErrCannotConnect = errors.New("cannot_connect")
)

// ValidateCredentials performs one login with cfg
func ValidateCredentials(ctx context.Context, cfg goodhome.Config, logger *zap.Logger, opts ...goodhome.Option) error {
	if cfg.Email == "" || cfg.Password == "" {
		return fmt.Errorf("%w: email and password are required", ErrInvalidAuth)
	}

	client := goodhome.NewClient(cfg, logger, opts...)
	err := client.CheckLogin(ctx)
	if err == nil {
		logger.Info("Credentials accepted", zap.String("user_id", client.UserID()))
		return nil
	}
	logger.Error("Credential check failed", zap.Error(err))

	var status *goodhome.HTTPStatusError
	switch {
	case errors.As(err, &status) && status.Status < http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	case errors.Is(err, goodhome.ErrTransport), errors.Is(err, goodhome.ErrProtocol):
		return fmt.Errorf("%w: %v", ErrCannotConnect, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
}
