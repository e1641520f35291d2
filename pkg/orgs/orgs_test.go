package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/billingd/pkg/apierrors"
)

func TestGetOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("existing org", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM organizations").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).
				AddRow("org-1", "Acme", time.Now().UTC()))

		svc := NewPostgresService(db)
		org, err := svc.GetOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "Acme", org.Name)
	})

	t.Run("missing org", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM organizations").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}))

		svc := NewPostgresService(db)
		_, err = svc.GetOrganization(ctx, "ghost")
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeNotFound, apierrors.CodeOf(err))
	})
}

func TestMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("member", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT role FROM organization_members").
			WithArgs("org-1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(RoleOwner))

		svc := NewPostgresService(db)
		role, err := svc.MemberRole(ctx, "org-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, role)
	})

	t.Run("non-member is forbidden", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT role FROM organization_members").
			WithArgs("org-1", "outsider").
			WillReturnRows(sqlmock.NewRows([]string{"role"}))

		svc := NewPostgresService(db)
		_, err = svc.MemberRole(ctx, "org-1", "outsider")
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeForbidden, apierrors.CodeOf(err))
	})
}

func TestMemberCount(t *testing.T) {
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	svc := NewPostgresService(db)
	count, err := svc.MemberCount(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
