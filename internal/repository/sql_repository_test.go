package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/database"
	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/workflow"
)

var created = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newMockQB(t *testing.T, driver string) (*database.QueryBuilder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("error closing db: %v", err)
		}
	})
	return database.NewQueryBuilder(sqlx.NewDb(db, driver)), mock
}

func ticketRowsFor(t *testing.T, tk *models.Ticket) *sqlmock.Rows {
	t.Helper()
	data, err := workflow.Encode(tk.Workflow)
	require.NoError(t, err)
	return sqlmock.NewRows(ticketColumns).AddRow(
		tk.ID, tk.Title, tk.Description, string(tk.Status), tk.Priority, tk.CreatedBy,
		tk.TemplateID, data, tk.Version, tk.CreatedAt, tk.UpdatedAt,
	)
}

func TestSQLTicketRepository_Create(t *testing.T) {
	qb, mock := newMockQB(t, database.DriverPostgres)
	repo := NewSQLTicketRepository(qb)

	state, err := workflow.Instantiate(sampleTemplate("Leave"), created)
	require.NoError(t, err)
	tk := &models.Ticket{Title: "Leave for Ana", Status: models.TicketOpened, Priority: "normal",
		CreatedBy: 4, TemplateID: 1, Workflow: state, CreatedAt: created}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tickets")+".*"+regexp.QuoteMeta("RETURNING id")).
		WithArgs("Leave for Ana", "", "opened", "normal", int64(4), int64(1), sqlmock.AnyArg(), int64(1), created, created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	require.NoError(t, repo.CreateTicket(context.Background(), tk))
	assert.Equal(t, int64(11), tk.ID)
	assert.Equal(t, int64(1), tk.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTicketRepository_CreateMissingTemplate(t *testing.T) {
	qb, mock := newMockQB(t, database.DriverPostgres)
	repo := NewSQLTicketRepository(qb)

	mock.ExpectQuery("INSERT INTO tickets").WillReturnError(&pq.Error{Code: "23503"})
	err := repo.CreateTicket(context.Background(), &models.Ticket{TemplateID: 9, Status: models.TicketOpened})
	assert.True(t, apperrors.IsIntegrity(err))
}

func TestSQLTicketRepository_Get(t *testing.T) {
	qb, mock := newMockQB(t, database.DriverPostgres)
	repo := NewSQLTicketRepository(qb)

	state, err := workflow.Instantiate(sampleTemplate("Leave"), created)
	require.NoError(t, err)
	want := &models.Ticket{ID: 5, Title: "Leave", Status: models.TicketOpened, CreatedBy: 2,
		TemplateID: 1, Workflow: state, Version: 3, CreatedAt: created, UpdatedAt: created}

	mock.ExpectQuery(regexp.QuoteMeta("FROM tickets WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(ticketRowsFor(t, want))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tickets WHERE id = $1")).
		WithArgs(int64(6)).
		WillReturnError(sql.ErrNoRows)

	got, err := repo.GetTicket(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, models.StepInProgress, got.Workflow.Steps["apply"].Status)
	assert.Equal(t, state.Metadata.TemplateVersion, got.Workflow.Metadata.TemplateVersion)

	_, err = repo.GetTicket(context.Background(), 6)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTicketRepository_GetCorruptState(t *testing.T) {
	qb, mock := newMockQB(t, database.DriverSQLite)
	repo := NewSQLTicketRepository(qb)

	mock.ExpectQuery("FROM tickets WHERE id = ?").
		WillReturnRows(sqlmock.NewRows(ticketColumns).AddRow(
			int64(5), "x", "", "opened", "", int64(1), int64(1), []byte("{broken"), int64(1), created, created))

	_, err := repo.GetTicket(context.Background(), 5)
	assert.True(t, apperrors.IsIntegrity(err))
}

func TestSQLTicketRepository_UpdateCompareAndSwap(t *testing.T) {
	qb, mock := newMockQB(t, database.DriverSQLite)
	repo := NewSQLTicketRepository(qb)
	update := regexp.QuoteMeta("version = version + 1") + ".*" + regexp.QuoteMeta("WHERE id = ? AND version = ?")

	t.Run("matching version", func(t *testing.T) {
		tk := &models.Ticket{ID: 5, Title: "t", Status: models.TicketInProgress, Version: 2, UpdatedAt: created}
		mock.ExpectExec(update).
			WithArgs("t", "", "in_progress", "", sqlmock.AnyArg(), created, int64(5), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdateTicket(context.Background(), tk))
		assert.Equal(t, int64(3), tk.Version)
	})

	t.Run("stale version", func(t *testing.T) {
		tk := &models.Ticket{ID: 5, Status: models.TicketInProgress, Version: 2}
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM tickets WHERE id = ?")).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))

		err := repo.UpdateTicket(context.Background(), tk)
		assert.True(t, apperrors.IsConflict(err))
		assert.Equal(t, int64(2), tk.Version)
	})

	t.Run("missing ticket", func(t *testing.T) {
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM tickets").WillReturnError(sql.ErrNoRows)

		err := repo.UpdateTicket(context.Background(), &models.Ticket{ID: 8, Status: models.TicketOpened, Version: 1})
		assert.True(t, apperrors.IsNotFound(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTicketRepository_List(t *testing.T) {
	qb, mock := newMockQB(t, database.DriverMySQL)
	repo := NewSQLTicketRepository(qb)

	newer := &models.Ticket{ID: 2, Title: "b", Status: models.TicketOpened, TemplateID: 3, Version: 1, CreatedAt: created.Add(time.Hour), UpdatedAt: created}
	older := &models.Ticket{ID: 1, Title: "a", Status: models.TicketOpened, TemplateID: 3, Version: 1, CreatedAt: created, UpdatedAt: created}
	rows := ticketRowsFor(t, newer)
	data, _ := workflow.Encode(nil)
	rows.AddRow(older.ID, older.Title, "", "opened", "", int64(0), int64(3), data, int64(1), older.CreatedAt, older.UpdatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tickets WHERE template_id = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")).
		WithArgs(int64(3), "opened", 20, 0).
		WillReturnRows(rows)

	got, err := repo.ListTickets(context.Background(), TicketFilter{
		ListRequest: models.ListRequest{Limit: 20},
		TemplateID:  3,
		Status:      models.TicketOpened,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Nil(t, got[1].Workflow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTicketRepository_DeleteAndCount(t *testing.T) {
	qb, mock := newMockQB(t, database.DriverSQLite)
	repo := NewSQLTicketRepository(qb)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tickets WHERE id = ?")).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tickets WHERE id = ?")).WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tickets WHERE template_id = ?")).
		WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	require.NoError(t, repo.DeleteTicket(context.Background(), 3))
	assert.True(t, apperrors.IsNotFound(repo.DeleteTicket(context.Background(), 4)))
	n, err := repo.CountByTemplate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTemplateRepository(t *testing.T) {
	ctx := context.Background()
	qb, mock := newMockQB(t, database.DriverSQLite)
	repo := NewSQLTemplateRepository(qb)

	tmpl := sampleTemplate("Leave")
	tmpl.CreatedAt = created
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ticket_templates")).
		WithArgs("Leave", "", "", "normal", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), created, created).
		WillReturnResult(sqlmock.NewResult(7, 1))
	require.NoError(t, repo.CreateTemplate(ctx, tmpl))
	assert.Equal(t, int64(7), tmpl.ID)

	workflowJSON, err := json.Marshal(tmpl.Workflow)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ticket_templates WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "title_format", "default_priority",
			"workflow", "workflow_config", "created_by", "created_at", "updated_at"}).
			AddRow(int64(7), "Leave", nil, "{{ template.name }}", "normal", workflowJSON, []byte("null"), int64(1), created, created))
	got, err := repo.GetTemplate(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Workflow, got.Workflow)
	assert.Nil(t, got.WorkflowConfig)
	assert.Equal(t, "{{ template.name }}", got.TitleFormat)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tickets WHERE template_id = ?")).
		WithArgs(int64(7)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	assert.True(t, apperrors.IsIntegrity(repo.DeleteTemplate(ctx, 7)))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tickets WHERE template_id = ?")).
		WithArgs(int64(8)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ticket_templates WHERE id = ?")).
		WithArgs(int64(8)).WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.DeleteTemplate(ctx, 8))

	mock.ExpectExec("INSERT INTO ticket_templates").WillReturnError(&pq.Error{Code: "23505"})
	assert.True(t, apperrors.IsValidation(repo.CreateTemplate(ctx, sampleTemplate("Leave"))))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRoleRepository(t *testing.T) {
	ctx := context.Background()
	qb, mock := newMockQB(t, database.DriverPostgres)
	repo := NewSQLRoleRepository(qb)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO roles")).
		WithArgs("agent", "", []byte(`["ticket.read"]`), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	role := &models.Role{Name: "agent", Permissions: []string{"ticket.read"}}
	require.NoError(t, repo.CreateRole(ctx, role))
	assert.Equal(t, int64(3), role.ID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM roles WHERE name = $1")).
		WithArgs("agent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "permissions", "created_at", "updated_at"}).
			AddRow(int64(3), "agent", "", []byte(`["ticket.read","ticket.update"]`), created, created))
	got, err := repo.GetRoleByName(ctx, "agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket.read", "ticket.update"}, got.Permissions)

	mock.ExpectQuery(regexp.QuoteMeta("FROM roles WHERE id = $1")).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)
	_, err = repo.GetRole(ctx, 9)
	assert.True(t, apperrors.IsNotFound(err))

	boss := int64(1)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO user_roles")).
		WithArgs(int64(2), int64(3), int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	ur := &models.UserRole{UserID: 2, RoleID: 3, ReportsToID: &boss}
	require.NoError(t, repo.AssignUserRole(ctx, ur))
	assert.Equal(t, int64(12), ur.ID)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO user_roles")).WillReturnError(&pq.Error{Code: "23505"})
	assert.True(t, apperrors.IsValidation(repo.AssignUserRole(ctx, &models.UserRole{UserID: 2, RoleID: 3})))

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_roles WHERE user_id = $1")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role_id", "reports_to_id", "created_at"}).
			AddRow(int64(12), int64(2), int64(3), int64(1), created))
	bindings, err := repo.ListUserRoles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, int64(1), *bindings[0].ReportsToID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
