package sessionpg

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/tyemirov/animalplace/internal/apiclient"
)

func TestPostgresSessionStoreRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("APP_TEST_POSTGRES_URL")
	if databaseURL == "" {
		t.Skip("APP_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, databaseURL, "test-"+uuid.NewString())
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	t.Cleanup(store.Close)

	empty, err := store.Load(ctx)
	if err != nil || empty.Authenticated() {
		t.Fatalf("expected empty session, got %#v %v", empty, err)
	}

	credentials := apiclient.Credentials{
		AccessToken:  "A1",
		RefreshToken: "R1",
		User:         apiclient.User{ID: "u1", Email: "admin@animalplace.example"},
	}
	if err := store.Save(ctx, credentials); err != nil {
		t.Fatalf("save error: %v", err)
	}
	credentials.AccessToken = "A2"
	credentials.RefreshToken = "R2"
	if err := store.Save(ctx, credentials); err != nil {
		t.Fatalf("second save error: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if loaded.AccessToken != "A2" || loaded.RefreshToken != "R2" || loaded.User.ID != "u1" {
		t.Fatalf("unexpected credentials: %#v", loaded)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	cleared, err := store.Load(ctx)
	if err != nil || cleared.Authenticated() || cleared.AccessToken != "" {
		t.Fatalf("expected cleared session, got %#v %v", cleared, err)
	}
}

func TestNewPostgresSessionStoreDefaultsNamespace(t *testing.T) {
	store := NewPostgresSessionStore(nil, " ")
	if store.namespace != defaultNamespace {
		t.Fatalf("expected default namespace, got %q", store.namespace)
	}
}
