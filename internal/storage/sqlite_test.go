package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestDocument(t *testing.T, s *Store, id string) Document {
	t.Helper()
	d := Document{
		ID:             id,
		Title:          "Resume Workshop Flyer",
		Filename:       "flyer.pdf",
		MimeType:       "application/pdf",
		Type:           "flyer",
		FileSize:       1234,
		IsDownloadable: true,
		StoragePath:    "documents/" + id + ".pdf",
		PublicURL:      "http://localhost:3001/files/documents/" + id + ".pdf",
		Metadata:       map[string]any{"uploaded_by": "admin"},
	}
	if err := s.CreateDocument(context.Background(), d); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return d
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 6 {
		t.Fatalf("applied %d migrations, want 6", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_documents_status_updated", "idx_document_chunks_document", "idx_jobs_status_run_after", "idx_chat_messages_session"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	s := openTestStore(t)
	want := createTestDocument(t, s, "doc-1")

	got, err := s.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != want.Title || got.MimeType != want.MimeType || !got.IsDownloadable {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Status != StatusProcessing {
		t.Errorf("status = %q, want %q", got.Status, StatusProcessing)
	}
	if got.Metadata["uploaded_by"] != "admin" {
		t.Errorf("metadata = %v, want uploaded_by=admin", got.Metadata)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDocument(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkDocumentFailedMergesMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestDocument(t, s, "doc-1")

	if err := s.MarkDocumentFailed(ctx, "doc-1", "Extracted text is too short or invalid"); err != nil {
		t.Fatalf("MarkDocumentFailed: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.FailureReason() != "Extracted text is too short or invalid" {
		t.Errorf("error = %q", got.FailureReason())
	}
	if _, ok := got.Metadata["failed_at"]; !ok {
		t.Error("failed_at missing from metadata")
	}
	if got.Metadata["uploaded_by"] != "admin" {
		t.Error("existing metadata keys were dropped")
	}
}

func TestUpdateDocumentContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestDocument(t, s, "doc-1")

	if err := s.UpdateDocumentContent(ctx, "doc-1", "full text", "full..."); err != nil {
		t.Fatalf("UpdateDocumentContent: %v", err)
	}
	got, _ := s.GetDocument(ctx, "doc-1")
	if got.Content != "full text" || got.ContentPreview != "full..." {
		t.Errorf("content = %q preview = %q", got.Content, got.ContentPreview)
	}

	if err := s.UpdateDocumentContent(ctx, "missing", "x", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing document err = %v, want ErrNotFound", err)
	}
}

func TestClaimDocumentIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	createTestDocument(t, s, "doc-1")
	if err := s.SetDocumentStatus(ctx, "doc-1", StatusFailed); err != nil {
		t.Fatalf("SetDocumentStatus: %v", err)
	}

	stale := base.Add(-10 * time.Minute)
	if err := s.ClaimDocument(ctx, "doc-1", "run-a", stale); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	got, _ := s.GetDocument(ctx, "doc-1")
	if got.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}

	if err := s.ClaimDocument(ctx, "doc-1", "run-b", stale); !errors.Is(err, ErrDocumentBusy) {
		t.Fatalf("second claim err = %v, want ErrDocumentBusy", err)
	}
	if held, _ := s.HoldsClaim(ctx, "doc-1", "run-a"); !held {
		t.Error("run-a lost its claim to a rejected caller")
	}

	// Releasing with a foreign token leaves the claim in place.
	if err := s.ReleaseDocument(ctx, "doc-1", "run-b"); err != nil {
		t.Fatalf("ReleaseDocument: %v", err)
	}
	if held, _ := s.HoldsClaim(ctx, "doc-1", "run-a"); !held {
		t.Error("foreign release dropped the claim")
	}

	if err := s.ReleaseDocument(ctx, "doc-1", "run-a"); err != nil {
		t.Fatalf("ReleaseDocument: %v", err)
	}
	if err := s.ClaimDocument(ctx, "doc-1", "run-b", stale); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestClaimDocumentTakesOverStaleClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	createTestDocument(t, s, "doc-1")

	if err := s.ClaimDocument(ctx, "doc-1", "run-a", base.Add(-10*time.Minute)); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	s.now = func() time.Time { return base.Add(11 * time.Minute) }
	if err := s.ClaimDocument(ctx, "doc-1", "run-b", base.Add(time.Minute)); err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if held, _ := s.HoldsClaim(ctx, "doc-1", "run-a"); held {
		t.Error("abandoned claim still held")
	}
	if held, _ := s.HoldsClaim(ctx, "doc-1", "run-b"); !held {
		t.Error("takeover claim not held")
	}
}

func TestClaimDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.ClaimDocument(context.Background(), "missing", "run-a", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListDocumentsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		createTestDocument(t, s, fmt.Sprintf("doc-%d", i))
	}

	docs, err := s.ListDocuments(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	if docs[0].ID != "doc-2" || docs[2].ID != "doc-0" {
		t.Errorf("order = %s,%s,%s", docs[0].ID, docs[1].ID, docs[2].ID)
	}
}

func TestDeleteDocumentCascadesToChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestDocument(t, s, "doc-1")

	chunks := []Chunk{
		{DocumentID: "doc-1", ChunkIndex: 0, Content: "first", EmbeddingID: "doc-1_chunk_0"},
		{DocumentID: "doc-1", ChunkIndex: 1, Content: "second", EmbeddingID: "doc-1_chunk_1"},
	}
	if err := s.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	if err := s.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	n, err := s.CountChunks(ctx, "doc-1")
	if err != nil {
		t.Fatalf("CountChunks: %v", err)
	}
	if n != 0 {
		t.Errorf("chunks after delete = %d, want 0", n)
	}
}

func TestInsertChunksIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestDocument(t, s, "doc-1")

	chunks := []Chunk{
		{DocumentID: "doc-1", ChunkIndex: 0, Content: "first", EmbeddingID: "dup"},
		{DocumentID: "doc-1", ChunkIndex: 1, Content: "second", EmbeddingID: "dup"},
	}
	if err := s.InsertChunks(ctx, chunks); err == nil {
		t.Fatal("expected unique violation on duplicate embedding_id")
	}
	n, _ := s.CountChunks(ctx, "doc-1")
	if n != 0 {
		t.Errorf("partial insert left %d rows", n)
	}
}

func TestChunkEmbeddingIDsAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestDocument(t, s, "doc-1")

	var chunks []Chunk
	for i := 2; i >= 0; i-- {
		chunks = append(chunks, Chunk{DocumentID: "doc-1", ChunkIndex: i, Content: "c", EmbeddingID: fmt.Sprintf("doc-1_chunk_%d", i)})
	}
	if err := s.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	ids, err := s.ChunkEmbeddingIDs(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ChunkEmbeddingIDs: %v", err)
	}
	want := []string{"doc-1_chunk_0", "doc-1_chunk_1", "doc-1_chunk_2"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}

	removed, err := s.DeleteChunks(ctx, "doc-1")
	if err != nil {
		t.Fatalf("DeleteChunks: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
}

func TestChunksByEmbeddingIDsJoinsDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestDocument(t, s, "doc-1")
	if err := s.InsertChunks(ctx, []Chunk{
		{DocumentID: "doc-1", ChunkIndex: 0, Content: "Workshops run every Tuesday.", EmbeddingID: "doc-1_chunk_0"},
	}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	got, err := s.ChunksByEmbeddingIDs(ctx, []string{"doc-1_chunk_0", "unknown_chunk_9"})
	if err != nil {
		t.Fatalf("ChunksByEmbeddingIDs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	rc := got[0]
	if !rc.HasDocument || rc.DocumentTitle != "Resume Workshop Flyer" || !rc.IsDownloadable {
		t.Errorf("join mismatch: %+v", rc)
	}
	if rc.Content != "Workshops run every Tuesday." {
		t.Errorf("content = %q", rc.Content)
	}

	none, err := s.ChunksByEmbeddingIDs(ctx, nil)
	if err != nil || none != nil {
		t.Errorf("empty ids: got %v, %v", none, err)
	}
}

func TestListStaleProcessing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	createTestDocument(t, s, "old")
	createTestDocument(t, s, "done")
	if err := s.SetDocumentStatus(ctx, "done", StatusProcessed); err != nil {
		t.Fatalf("SetDocumentStatus: %v", err)
	}
	s.now = func() time.Time { return base.Add(20 * time.Minute) }
	createTestDocument(t, s, "fresh")

	stale, err := s.ListStaleProcessing(ctx, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ListStaleProcessing: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Errorf("stale = %+v, want only old", stale)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.EnqueueJob(Job{ID: "job-1", Type: "process_document", PayloadJSON: `{"document_id":"doc-1"}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"process_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "job-1" || job.Status != "running" {
		t.Fatalf("claimed %+v", job)
	}

	again, err := s.ClaimNextJob([]string{"process_document"})
	if err != nil || again != nil {
		t.Fatalf("second claim = %+v, %v; want nil", again, err)
	}

	if err := s.FailJob("job-1", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, _ := s.GetJob("job-1")
	if j.Status != "pending" || j.Attempts != 1 || j.LastError != "boom" {
		t.Errorf("after first failure: %+v", j)
	}
	if !j.RunAfter.After(base) {
		t.Errorf("run_after %v not pushed past %v", j.RunAfter, base)
	}

	if job, _ := s.ClaimNextJob([]string{"process_document"}); job != nil {
		t.Error("job claimable before backoff elapsed")
	}

	s.now = func() time.Time { return base.Add(time.Minute) }
	if job, _ := s.ClaimNextJob([]string{"process_document"}); job == nil {
		t.Fatal("job not claimable after backoff")
	}
	if err := s.FailJob("job-1", "boom again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, _ = s.GetJob("job-1")
	if j.Status != "failed" || j.Attempts != 2 {
		t.Errorf("after max attempts: %+v", j)
	}

	counts, err := s.CountJobsByStatus()
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts["failed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestCompleteJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.CompleteJob("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestChatHistoryWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreateSession(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	same, err := s.GetOrCreateSession(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession (again): %v", err)
	}
	if same.ID != sess.ID {
		t.Errorf("session id changed: %s -> %s", sess.ID, same.ID)
	}

	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.AddChatMessage(ctx, ChatMessage{SessionID: sess.ID, Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("AddChatMessage: %v", err)
		}
	}

	msgs, err := s.RecentChatMessages(ctx, sess.ID, 4)
	if err != nil {
		t.Fatalf("RecentChatMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Content != "m6" || msgs[3].Content != "m9" {
		t.Errorf("window = %s..%s, want m6..m9", msgs[0].Content, msgs[3].Content)
	}

	all, err := s.RecentChatMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("RecentChatMessages(0): %v", err)
	}
	if len(all) != 10 || all[0].Content != "m0" || all[9].Content != "m9" {
		t.Errorf("full history = %d messages", len(all))
	}
}

func TestRecordAnalytics(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordAnalytics(context.Background(), AnalyticsEvent{
		SessionID:       "sess",
		QueryAnonymized: "how do I get [EMAIL] help",
		Category:        "job_search",
		ContextChunks:   2,
		Grounded:        true,
		ResponseTime:    1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordAnalytics: %v", err)
	}
	var ms int
	if err := s.db.QueryRow(`SELECT response_ms FROM chat_analytics`).Scan(&ms); err != nil {
		t.Fatalf("select: %v", err)
	}
	if ms != 1500 {
		t.Errorf("response_ms = %d, want 1500", ms)
	}
}

func TestRecordDownload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestDocument(t, s, "doc-dl")

	for range 3 {
		if err := s.RecordDownload(ctx, "doc-dl"); err != nil {
			t.Fatalf("RecordDownload: %v", err)
		}
	}
	n, err := s.DownloadCount(ctx, "doc-dl")
	if err != nil {
		t.Fatalf("DownloadCount: %v", err)
	}
	if n != 3 {
		t.Errorf("DownloadCount = %d, want 3", n)
	}

	if n, _ := s.DownloadCount(ctx, "never"); n != 0 {
		t.Errorf("DownloadCount(never) = %d, want 0", n)
	}
	if err := s.RecordDownload(ctx, "missing-doc"); err == nil {
		t.Error("expected foreign key error for unknown document")
	}
}

func TestPendingMigrations_SkipsApplied(t *testing.T) {
	pending, err := pendingMigrations(func() (map[int]bool, error) {
		return map[int]bool{1: true, 2: true}, nil
	})
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	var got []int
	for _, m := range pending {
		got = append(got, m.version)
	}
	want := []int{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pending = %v, want %v", got, want)
		}
	}
	if pending[3].name != "006_document_claims.sql" {
		t.Errorf("name = %q", pending[3].name)
	}
}
