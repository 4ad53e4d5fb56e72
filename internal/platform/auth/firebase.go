package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/repairdesk/api/internal/platform/config"
)

var errFirebaseUninitialised = errors.New("auth: firebase client not initialised")

// FirebaseVerifier checks staff ID tokens with the Admin SDK. Calls are bounded by a timeout.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

var (
	_ TokenVerifier      = (*FirebaseVerifier)(nil)
	_ RevocationVerifier = (*FirebaseVerifier)(nil)
)

// NewFirebaseVerifier initialises the Admin SDK for the shop's project. The SDK honours
// FIREBASE_AUTH_EMULATOR_HOST, which is how local runs avoid real credentials.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, timeout time.Duration) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &FirebaseVerifier{client: client, timeout: timeout}, nil
}

func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return v.call(ctx, idToken, (*firebaseauth.Client).VerifyIDToken)
}

// VerifyIDTokenAndCheckRevoked additionally fails for revoked sessions and disabled accounts.
func (v *FirebaseVerifier) VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return v.call(ctx, idToken, (*firebaseauth.Client).VerifyIDTokenAndCheckRevoked)
}

func (v *FirebaseVerifier) call(ctx context.Context, idToken string, fn func(*firebaseauth.Client, context.Context, string) (*firebaseauth.Token, error)) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errFirebaseUninitialised
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return fn(v.client, ctx, idToken)
}
