package repo

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkpass/server/internal/model"
)

// testDB opens the database named by TEST_DATABASE_URL and migrates it.
// Tests are skipped when the variable is unset so the suite stays runnable
// without infrastructure.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping database tests")
	}

	database, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Ping())

	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(database, "../db/migrations"))

	_, err = database.Exec(`TRUNCATE users, whitelist_entries, activity_log`)
	require.NoError(t, err)

	return database
}

func TestUserRepo_createAndLookup(t *testing.T) {
	database := testDB(t)
	users := NewUserRepo(database)
	ctx := context.Background()

	created, err := users.Create(ctx, model.UserProfile{
		ID:                 uuid.New(),
		Email:              "Rider@Example.com",
		Role:               model.RoleBasic,
		RegistrationMethod: "whitelist",
	})
	require.NoError(t, err)
	assert.Equal(t, "rider@example.com", created.Email, "emails are stored lowercased")

	byEmail, err := users.GetByEmail(ctx, "RIDER@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)

	_, err = users.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_duplicateCreateReturnsWinner(t *testing.T) {
	database := testDB(t)
	users := NewUserRepo(database)
	ctx := context.Background()

	first, err := users.Create(ctx, model.UserProfile{
		ID:    uuid.New(),
		Email: "rider@example.com",
		Role:  model.RoleBasic,
	})
	require.NoError(t, err)

	second, err := users.Create(ctx, model.UserProfile{
		ID:    uuid.New(),
		Email: "rider@example.com",
		Role:  model.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "the losing insert lands on the existing row")
	assert.Equal(t, model.RoleBasic, second.Role)
}

func TestUserRepo_touchLastActive(t *testing.T) {
	database := testDB(t)
	users := NewUserRepo(database)
	ctx := context.Background()

	created, err := users.Create(ctx, model.UserProfile{
		ID:    uuid.New(),
		Email: "rider@example.com",
		Role:  model.RoleBasic,
	})
	require.NoError(t, err)
	require.Nil(t, created.LastActiveAt)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, users.TouchLastActive(ctx, created.ID, at))

	updated, err := users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastActiveAt)
	assert.Equal(t, at.Unix(), updated.LastActiveAt.Unix())
}

func TestWhitelistRepo_stampRegisteredOnce(t *testing.T) {
	database := testDB(t)
	whitelist := NewWhitelistRepo(database)
	ctx := context.Background()

	_, err := database.Exec(`
		INSERT INTO whitelist_entries (email, role) VALUES ('rider@example.com', 'basic')
	`)
	require.NoError(t, err)

	entry, err := whitelist.GetByEmail(ctx, "Rider@Example.com")
	require.NoError(t, err)
	assert.Nil(t, entry.RegisteredAt)

	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, whitelist.StampRegistered(ctx, "rider@example.com", first))
	require.NoError(t, whitelist.StampRegistered(ctx, "rider@example.com", first.Add(time.Hour)))

	entry, err = whitelist.GetByEmail(ctx, "rider@example.com")
	require.NoError(t, err)
	require.NotNil(t, entry.RegisteredAt)
	assert.Equal(t, first.Unix(), entry.RegisteredAt.Unix(), "a second stamp must not move the timestamp")

	_, err = whitelist.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestActivityRepo_record(t *testing.T) {
	database := testDB(t)
	activity := NewActivityRepo(database)
	ctx := context.Background()

	err := activity.Record(ctx, model.ActivityRecord{
		Type:            model.ActivityFailedLogin,
		UserID:          uuid.New().String(),
		DisplayIdentity: "rider@example.com",
		Metadata:        map[string]string{"reason": "not_approved"},
		DeviceID:        "device-1",
		IPAddress:       "203.0.113.9",
		Timestamp:       time.Now().UTC(),
	})
	require.NoError(t, err)

	var count int
	var meta string
	err = database.QueryRow(`
		SELECT count(*), min(metadata::text) FROM activity_log WHERE activity_type = 'failed_login'
	`).Scan(&count, &meta)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, meta, "not_approved")
}
