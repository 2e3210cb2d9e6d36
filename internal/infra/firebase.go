// README: Firebase Admin SDK initialisation for the Realtime Database client.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// NewFirebaseDatabase creates an RTDB client. If credentialsFile is non-empty it is used
// as the service-account JSON path; otherwise application-default credentials are used.
func NewFirebaseDatabase(ctx context.Context, databaseURL, credentialsFile string) (*db.Client, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Database: %w", err)
	}
	return client, nil
}
