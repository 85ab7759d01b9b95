package docsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/hub"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/service"
	internalhttp "github.com/vishnu-mouli-102408/sync-scribe/internal/transport/http"
	"github.com/vishnu-mouli-102408/sync-scribe/tests/helpers"
)

func newTestAPI(t *testing.T) string {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, db, "bob")
	svc := service.New(db, helpers.NewTestPolicyEngine(t))
	noWS := func(c echo.Context) error { return c.NoContent(http.StatusNotImplemented) }
	srv := httptest.NewServer(internalhttp.NewServer(svc, hub.New(hub.Options{}), noWS, nil).Echo())
	t.Cleanup(srv.Close)
	return srv.URL
}

func devClient(baseURL, id string) *Client {
	return NewDevClient(baseURL, &domain.User{ID: id, Email: id + "@example.com"})
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	base := newTestAPI(t)
	alice := devClient(base, "alice")
	bob := devClient(base, "bob")

	doc, err := alice.CreateDocument(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)

	_, err = bob.Load(ctx, doc.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	share, err := alice.Share(ctx, doc.ID, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "bob", share.UserID)

	state, err := bob.Load(ctx, doc.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello", state.Content)

	state, err = bob.Save(ctx, doc.ID, "bob", "hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, state.Version)
	assert.Equal(t, "bob", state.LastEditedBy)

	docs, err := bob.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello world", docs[0].Content)

	shares, err := bob.ListShares(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, shares, 1)

	assert.ErrorIs(t, bob.DeleteDocument(ctx, doc.ID), domain.ErrAccessDenied)
	require.NoError(t, alice.RemoveShare(ctx, doc.ID, "bob"))
	require.NoError(t, alice.DeleteDocument(ctx, doc.ID))

	_, err = alice.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestShareErrors(t *testing.T) {
	ctx := context.Background()
	alice := devClient(newTestAPI(t), "alice")

	doc, err := alice.CreateDocument(ctx, "")
	require.NoError(t, err)

	_, err = alice.Share(ctx, doc.ID, "ghost@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = alice.Share(ctx, doc.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBearerTokenSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL+"/", "tok").ListDocuments(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "Bearer tok", got)
}
