package utils

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// FirebaseConfig selects the Firebase project. Both fields are optional; the
// SDK falls back to application default credentials.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// OpenFirebase builds the Firebase app shared by ID-token verification and
// FCM. The credentials file path must not be logged with its contents.
func OpenFirebase(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	return app, nil
}
