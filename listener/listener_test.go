package listener

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"denuncia-service/database"
	"denuncia-service/models"
)

func newMockListener(t *testing.T) (*ChangeListener, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewChangeListener(database.NewFeedStore(db), time.Minute), mock
}

func changeColumns() []string {
	return []string{
		"change_seq", "change_type", "denuncia_id", "changed_at",
		"id", "folio", "titulo", "descripcion", "direccion",
		"latitude", "longitude", "estado", "categoria_id", "fecha_creacion",
		"es_publica",
	}
}

func TestInitializeCheckpointUsesPersistedSeq(t *testing.T) {
	l, mock := newMockListener(t)

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(last_processed_seq\\), 0\\) FROM service_state").
		WithArgs("feed-listener").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))

	require.NoError(t, l.initializeLastProcessedSeq(context.Background()))
	assert.Equal(t, 42, l.LastProcessedSeq())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializeCheckpointStartsAtStreamHead(t *testing.T) {
	l, mock := newMockListener(t)

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(last_processed_seq\\), 0\\) FROM service_state").
		WithArgs("feed-listener").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(0))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(change_seq\\), 0\\) FROM denuncia_changes").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(17))
	mock.ExpectExec("INSERT INTO service_state").
		WithArgs("feed-listener", 17).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, l.initializeLastProcessedSeq(context.Background()))
	assert.Equal(t, 17, l.LastProcessedSeq())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessChangesFansOutAndAdvancesCheckpoint(t *testing.T) {
	l, mock := newMockListener(t)
	l.lastProcessedSeq = 10

	now := time.Now()
	rows := sqlmock.NewRows(changeColumns()).
		AddRow(11, models.EventInsert, "d-1", now,
			"d-1", "F-001", "basura", "", "", 47.32, 8.52, 1, 2, now, true).
		AddRow(12, models.EventDelete, "d-2", now,
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, false)

	mock.ExpectQuery("FROM denuncia_changes").
		WithArgs(10, 500).
		WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO service_state").
		WithArgs("feed-listener", 12).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, events := l.Subscribe()
	defer l.Unsubscribe(id)

	require.NoError(t, l.processChanges())
	assert.Equal(t, 12, l.LastProcessedSeq())

	ev := <-events
	assert.Equal(t, models.EventInsert, ev.Type)
	require.NotNil(t, ev.Item)
	assert.Equal(t, "d-1", ev.Item.ID)

	ev = <-events
	assert.Equal(t, models.EventDelete, ev.Type)
	assert.Nil(t, ev.Item)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessChangesNoNewRows(t *testing.T) {
	l, mock := newMockListener(t)
	l.lastProcessedSeq = 5

	mock.ExpectQuery("FROM denuncia_changes").
		WithArgs(5, 500).
		WillReturnRows(sqlmock.NewRows(changeColumns()))

	require.NoError(t, l.processChanges())
	assert.Equal(t, 5, l.LastProcessedSeq())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlowSubscriberDoesNotBlockFanOut(t *testing.T) {
	l, _ := newMockListener(t)

	id, events := l.Subscribe()
	defer l.Unsubscribe(id)

	// Fill the buffer past capacity; extra events are dropped, not blocked on
	for i := 0; i < subscriberBuffer+10; i++ {
		l.fanOut(models.FeedEvent{Seq: i, Type: models.EventDelete, DenunciaID: "d"})
	}

	assert.Len(t, events, subscriberBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l, _ := newMockListener(t)

	id, events := l.Subscribe()
	assert.Equal(t, 1, l.SubscriberCount())

	l.Unsubscribe(id)
	assert.Equal(t, 0, l.SubscriberCount())

	_, open := <-events
	assert.False(t, open)

	// Repeat unsubscribe is a no-op
	l.Unsubscribe(id)
}
