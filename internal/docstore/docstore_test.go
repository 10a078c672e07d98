package docstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worida2025/sonatrach-manager/internal/pdfx"
	"github.com/worida2025/sonatrach-manager/internal/storage"
	"github.com/worida2025/sonatrach-manager/internal/tags"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and shared
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store, db
}

func createTestDocument(t *testing.T, store *Store) Document {
	t.Helper()
	doc, err := store.CreateDocument(context.Background(), Document{
		Filename:  "compressor.pdf",
		SizeBytes: 2048,
		Status:    StatusProcessed,
		ExtractedData: map[string]string{
			"Model":        "KX-500",
			"Manufacturer": "Atlas",
		},
		Datasheets: []Datasheet{
			{
				Index:         1,
				EquipmentName: "Compressor KX-500",
				Pages:         []int{1, 2},
				FullText:      "COMPRESSOR DATA SHEET\nModel: KX-500",
				Tables: []pdfx.Table{
					{PageNumber: 1, Cells: [][]string{{"Model", "KX-500"}}},
				},
			},
		},
	})
	require.NoError(t, err)
	return doc
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	created := createTestDocument(t, store)
	require.NotEmpty(t, created.ID)

	got, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, "compressor.pdf", got.Filename)
	assert.Equal(t, StatusProcessed, got.Status)
	assert.Equal(t, map[string]string{"Model": "KX-500", "Manufacturer": "Atlas"}, got.ExtractedData)
	require.Len(t, got.Datasheets, 1)
	assert.Equal(t, "Compressor KX-500", got.Datasheets[0].EquipmentName)
	assert.Equal(t, []int{1, 2}, got.Datasheets[0].Pages)
	require.Len(t, got.Datasheets[0].Tables, 1)
	assert.Nil(t, got.TagResult)
	assert.Empty(t, got.ChatHistory)
}

func TestGetUnknownDocument(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-id")
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestListDocumentsNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"old.pdf", "mid.pdf", "new.pdf"} {
		_, err := store.CreateDocument(ctx, Document{
			Filename:   name,
			Status:     StatusProcessed,
			UploadedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "new.pdf", docs[0].Filename)
	assert.Equal(t, "old.pdf", docs[2].Filename)
}

func TestDeleteDocumentCascades(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	_, err := store.MergeChatTurn(ctx, doc.ID, ChatTurn{
		Message:         "what is the pressure?",
		Response:        "300 PSI",
		ExtractedFields: map[string]string{"Pressure": "300 PSI"},
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveTagResult(ctx, doc.ID, &tags.Result{
		Status: tags.StatusSuccess, Tags: []string{"PT-101"}, NewAcronyms: []string{},
	}))

	require.NoError(t, store.DeleteDocument(ctx, doc.ID))

	_, err = store.Get(ctx, doc.ID)
	assert.True(t, errors.Is(err, ErrDocumentNotFound))

	for _, table := range []string{"datasheets", "fields", "chat_turns", "tag_results"} {
		var n int
		require.NoError(t, db.QueryRow(
			`SELECT COUNT(*) FROM `+table+` WHERE document_id = ?`, doc.ID).Scan(&n))
		assert.Zero(t, n, "expected cascade to clear %s", table)
	}

	assert.True(t, errors.Is(store.DeleteDocument(ctx, doc.ID), ErrDocumentNotFound))
}

func TestSetFieldsReplacesEverything(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	require.NoError(t, store.SetFields(ctx, doc.ID, map[string]string{
		"Pressure": "300 PSI",
	}))

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Pressure": "300 PSI"}, got.ExtractedData,
		"set_fields is a full replace, not a merge")
}

func TestDeleteField(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	require.NoError(t, store.SetFields(ctx, doc.ID, map[string]string{
		"Pressure": "300 PSI",
		"Model":    "KX-500",
	}))
	require.NoError(t, store.DeleteField(ctx, doc.ID, "Pressure"))

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Model": "KX-500"}, got.ExtractedData)
}

func TestDeleteFieldNotFoundLeavesStateUnchanged(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	err := store.DeleteField(ctx, doc.ID, "Altitude")
	assert.True(t, errors.Is(err, ErrFieldNotFound))

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Model": "KX-500", "Manufacturer": "Atlas"},
		got.ExtractedData)
}

func TestMergeChatTurnAppliesFieldAndTurnTogether(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	turn, err := store.MergeChatTurn(ctx, doc.ID, ChatTurn{
		Message:         "extract the flow rate",
		Response:        "The flow rate is 120 GPM.",
		ExtractedFields: map[string]string{"Flow Rate": "120 GPM"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, turn.ID)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "120 GPM", got.ExtractedData["Flow Rate"])
	require.Len(t, got.ChatHistory, 1)
	assert.Equal(t, "extract the flow rate", got.ChatHistory[0].Message)
	assert.Equal(t, map[string]string{"Flow Rate": "120 GPM"}, got.ChatHistory[0].ExtractedFields)
}

func TestMergeChatTurnOverwritesExistingField(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	_, err := store.MergeChatTurn(ctx, doc.ID, ChatTurn{
		Message:         "the model is actually KX-600",
		Response:        "Updated.",
		ExtractedFields: map[string]string{"Model": "KX-600"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "KX-600", got.ExtractedData["Model"],
		"chat merge is last-write-wins at field granularity")
}

func TestAppendChatTurnDoesNotTouchFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	_, err := store.AppendChatTurn(ctx, doc.ID, ChatTurn{
		Message:  "what does PT mean?",
		Response: "Pressure transmitter.",
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got.ChatHistory, 1)
	assert.Empty(t, got.ChatHistory[0].ExtractedFields)
	assert.Equal(t, map[string]string{"Model": "KX-500", "Manufacturer": "Atlas"},
		got.ExtractedData)
}

func TestSaveTagResultSupersedesPriorRun(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, store)

	require.NoError(t, store.SaveTagResult(ctx, doc.ID, &tags.Result{
		Status: tags.StatusSuccess, Message: "first run",
		Tags: []string{"PT-101"}, NewAcronyms: []string{},
		FileKey: "file_aaaa", TotalWordsAnalyzed: 10,
	}))
	require.NoError(t, store.SaveTagResult(ctx, doc.ID, &tags.Result{
		Status: tags.StatusSuccess, Message: "second run",
		Tags: []string{"PT-101", "FT-202"}, NewAcronyms: []string{"FT"},
		FileKey: "file_aaaa", TotalWordsAnalyzed: 12,
	}))

	result, err := store.GetTagResult(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "second run", result.Message)
	assert.Equal(t, []string{"PT-101", "FT-202"}, result.Tags)
	assert.Equal(t, 12, result.TotalWordsAnalyzed)
}

func TestGetTagResultNilWhenNeverRun(t *testing.T) {
	store, _ := newTestStore(t)
	doc := createTestDocument(t, store)

	result, err := store.GetTagResult(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestLockManagerSerializesPerDocument(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "doc-1")
	require.NoError(t, err)

	// A different document is independent
	otherRelease, err := lm.Acquire(ctx, "doc-2")
	require.NoError(t, err)
	otherRelease()

	acquired := make(chan struct{})
	go func() {
		r, err := lm.Acquire(ctx, "doc-1")
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestLockManagerDropsIdleSlots(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "doc-1")
	require.NoError(t, err)

	lm.mu.Lock()
	held := len(lm.slots)
	lm.mu.Unlock()
	assert.Equal(t, 1, held)

	release()

	lm.mu.Lock()
	idle := len(lm.slots)
	lm.mu.Unlock()
	assert.Zero(t, idle, "released slot must not linger in the map")

	// A cancelled waiter must not pin the slot either
	release, err = lm.Acquire(ctx, "doc-2")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = lm.Acquire(cancelled, "doc-2")
	require.Error(t, err)

	release()
	lm.mu.Lock()
	idle = len(lm.slots)
	lm.mu.Unlock()
	assert.Zero(t, idle)
}

func TestLockManagerAcquireHonorsCancellation(t *testing.T) {
	lm := NewLockManager()

	release, err := lm.Acquire(context.Background(), "doc-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = lm.Acquire(ctx, "doc-1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
