package track

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-trailmap/internal/cache"
	"backend-trailmap/internal/config"
	"backend-trailmap/internal/gpx"
	"backend-trailmap/internal/locks"
	"backend-trailmap/internal/maps"
	"backend-trailmap/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
)

func newHandlerApp(t *testing.T, cfg config.Config, geometries *cache.GeometryCache) (*fiber.App, pgxmock.PgxPoolIface, *storage.Service) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	blobs, err := storage.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("blob service: %v", err)
	}

	fakeAuth := func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		return c.Next()
	}

	registry := locks.NewRegistry()
	app := fiber.New()
	RegisterRoutes(app.Group("/maps/:mapId/tracks"),
		NewService(mock, blobs, registry), maps.NewService(mock, registry), blobs, geometries, cfg, fakeAuth)
	return app, mock, blobs
}

func defaultHandlerApp(t *testing.T) (*fiber.App, pgxmock.PgxPoolIface, *storage.Service) {
	return newHandlerApp(t, config.Config{MaxUploadBytes: 1 << 20}, cache.NewGeometryCache(nil))
}

func expectMapOwned(mock pgxmock.PgxPoolIface, mapID string) {
	now := time.Now()
	mock.ExpectQuery(`FROM maps WHERE id`).
		WithArgs(mapID, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "created_at", "updated_at"}).
			AddRow(mapID, "user-1", "Alps", now, now))
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestTrackHandlersUploadBatch(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	content := testGPX(5)
	hash := gpx.ContentHash(content)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`FROM tracks WHERE map_id`).
		WithArgs("map-1", "user-1", hash).
		WillReturnError(pgx.ErrNoRows)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO tracks`).
		WithArgs(anyArgs(23)...).
		WillReturnRows(pgxmock.NewRows([]string{"uploaded_at", "created_at", "updated_at"}).AddRow(now, now, now))

	body, contentType := multipartBody(t, map[string][]byte{"ride.gpx": content})
	req := httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status: %v %d", err, resp.StatusCode)
	}

	var result struct {
		Uploaded int      `json:"uploaded"`
		Failed   int      `json:"failed"`
		TrackIDs []string `json:"track_ids"`
		Errors   []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Uploaded != 1 || result.Failed != 0 || len(result.TrackIDs) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTrackHandlersUploadRejectsNonGPX(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")

	body, contentType := multipartBody(t, map[string][]byte{"notes.txt": []byte("hello")})
	req := httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var result struct {
		Failed int      `json:"failed"`
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Failed != 1 || len(result.Errors) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTrackHandlersUploadTooLarge(t *testing.T) {
	app, mock, _ := newHandlerApp(t, config.Config{MaxUploadBytes: 16}, cache.NewGeometryCache(nil))

	expectMapOwned(mock, "map-1")

	body, contentType := multipartBody(t, map[string][]byte{"big.gpx": testGPX(50)})
	req := httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTrackHandlersUploadDuplicateOnly(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	content := testGPX(5)
	hash := gpx.ContentHash(content)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`FROM tracks WHERE map_id`).
		WithArgs("map-1", "user-1", hash).
		WillReturnRows(trackRow("track-1", "map-1", "user-1", hash))

	body, contentType := multipartBody(t, map[string][]byte{"morning.gpx": content})
	req := httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for duplicate-only batch, got %d", resp.StatusCode)
	}

	var result struct {
		Uploaded int      `json:"uploaded"`
		TrackIDs []string `json:"track_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Uploaded != 0 || len(result.TrackIDs) != 1 || result.TrackIDs[0] != "track-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTrackHandlersUploadMapNotFound(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	mock.ExpectQuery(`FROM maps WHERE id`).
		WithArgs("map-x", "user-1").
		WillReturnError(pgx.ErrNoRows)

	body, contentType := multipartBody(t, map[string][]byte{"ride.gpx": testGPX(5)})
	req := httptest.NewRequest(http.MethodPost, "/maps/map-x/tracks/", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTrackHandlersList(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`ORDER BY activity_date DESC`).
		WithArgs("map-1", "user-1").
		WillReturnRows(trackRow("track-1", "map-1", "user-1", "hash-a"))

	req := httptest.NewRequest(http.MethodGet, "/maps/map-1/tracks/", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %v", err)
	}

	var tracks []Track
	if err := json.NewDecoder(resp.Body).Decode(&tracks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "track-1" {
		t.Fatalf("unexpected tracks: %+v", tracks)
	}
}

func TestTrackHandlersListEmpty(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`ORDER BY activity_date DESC`).
		WithArgs("map-1", "user-1").
		WillReturnRows(pgxmock.NewRows(trackCols))

	req := httptest.NewRequest(http.MethodGet, "/maps/map-1/tracks/", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %v", err)
	}

	raw, _ := json.Marshal([]Track{})
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if buf.String() != string(raw) {
		t.Fatalf("expected empty array, got %s", buf.String())
	}
}

func TestTrackHandlersGeometryBatch(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`SELECT id, coordinates, segment_speeds`).
		WithArgs(pgxmock.AnyArg(), "map-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "coordinates", "segment_speeds"}).
			AddRow("track-1", []byte(`[[107.6,-6.9],[107.7,-6.8]]`), []byte(`[2.5]`)))

	body := []byte(`{"track_ids":["track-1","track-missing"]}`)
	req := httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/geometry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("geometry status: %v", err)
	}

	var geometries []Geometry
	if err := json.NewDecoder(resp.Body).Decode(&geometries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(geometries) != 1 || geometries[0].TrackID != "track-1" {
		t.Fatalf("unexpected geometries: %+v", geometries)
	}
}

func TestTrackHandlersGeometryServedFromCache(t *testing.T) {
	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	app, mock, _ := newHandlerApp(t, config.Config{MaxUploadBytes: 1 << 20}, cache.NewGeometryCache(client))

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`SELECT id, coordinates, segment_speeds`).
		WithArgs(pgxmock.AnyArg(), "map-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "coordinates", "segment_speeds"}).
			AddRow("track-1", []byte(`[[107.6,-6.9]]`), []byte(nil)))

	body := []byte(`{"track_ids":["track-1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/geometry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if resp, err := app.Test(req); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("first geometry request: %v", err)
	}

	// second request resolves from redis, no further db expectation needed
	expectMapOwned(mock, "map-1")
	req = httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/geometry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("second geometry request: %v", err)
	}

	var geometries []Geometry
	if err := json.NewDecoder(resp.Body).Decode(&geometries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(geometries) != 1 || geometries[0].TrackID != "track-1" {
		t.Fatalf("unexpected geometries: %+v", geometries)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTrackHandlersGeometryCacheNotSharedAcrossUsers(t *testing.T) {
	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	geometries := cache.NewGeometryCache(client)
	app, mock, _ := newHandlerApp(t, config.Config{MaxUploadBytes: 1 << 20}, geometries)

	// another user's geometry for the same track id is already cached
	geometries.Set(context.Background(), "user-2", "map-2", "track-1",
		[]byte(`{"track_id":"track-1","coordinates":[[107.6,-6.9]]}`))

	// requester owns map-1 but not the track; the lookup must hit the
	// database and come back empty instead of serving the cached payload
	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`SELECT id, coordinates, segment_speeds`).
		WithArgs("track-1", "map-1", "user-1").
		WillReturnError(pgx.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/maps/map-1/tracks/track-1/geometry", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for track owned by someone else, got %d", resp.StatusCode)
	}

	// the batch endpoint must miss the foreign cache entry the same way
	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`SELECT id, coordinates, segment_speeds`).
		WithArgs(pgxmock.AnyArg(), "map-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "coordinates", "segment_speeds"}))

	body := []byte(`{"track_ids":["track-1"]}`)
	req = httptest.NewRequest(http.MethodPost, "/maps/map-1/tracks/geometry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("batch geometry request: %v", err)
	}

	var batch []Geometry
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("foreign cached geometry leaked into batch response: %+v", batch)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTrackHandlersSingleGeometry(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`SELECT id, coordinates, segment_speeds`).
		WithArgs("track-1", "map-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "coordinates", "segment_speeds"}).
			AddRow("track-1", []byte(`[[107.6,-6.9],[107.7,-6.8]]`), []byte(`[2.5]`)))

	req := httptest.NewRequest(http.MethodGet, "/maps/map-1/tracks/track-1/geometry", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("geometry status: %v", err)
	}

	var g Geometry
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.TrackID != "track-1" || len(g.Coordinates) != 2 {
		t.Fatalf("unexpected geometry: %+v", g)
	}
}

func TestTrackHandlersSingleGeometryNotFound(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`SELECT id, coordinates, segment_speeds`).
		WithArgs("track-x", "map-1", "user-1").
		WillReturnError(pgx.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/maps/map-1/tracks/track-x/geometry", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTrackHandlersBulkUpdate(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectExec(`UPDATE tracks SET`).
		WithArgs(pgxmock.AnyArg(), "map-1", "user-1", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	body := []byte(`{"track_ids":["track-1","track-2"],"updates":{"visible":false}}`)
	req := httptest.NewRequest(http.MethodPatch, "/maps/map-1/tracks/bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk status: %v", err)
	}

	var result struct {
		Updated int64 `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Updated != 2 {
		t.Fatalf("expected 2 updated, got %d", result.Updated)
	}
}

func TestTrackHandlersPatch(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`UPDATE tracks SET`).
		WithArgs("track-1", "map-1", "user-1", "Evening").
		WillReturnRows(trackRow("track-1", "map-1", "user-1", "hash-a"))

	body := []byte(`{"name":"Evening"}`)
	req := httptest.NewRequest(http.MethodPatch, "/maps/map-1/tracks/track-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status: %v", err)
	}
}

func TestTrackHandlersPatchNotFound(t *testing.T) {
	app, mock, _ := defaultHandlerApp(t)

	expectMapOwned(mock, "map-1")
	mock.ExpectQuery(`UPDATE tracks SET`).
		WithArgs("track-x", "map-1", "user-1", "Evening").
		WillReturnError(pgx.ErrNoRows)

	req := httptest.NewRequest(http.MethodPatch, "/maps/map-1/tracks/track-x", bytes.NewReader([]byte(`{"name":"Evening"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTrackHandlersDelete(t *testing.T) {
	app, mock, blobs := defaultHandlerApp(t)

	if err := blobs.Store("user-1", "hash-a", []byte("<gpx/>")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	expectMapOwned(mock, "map-1")
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT hash FROM tracks`).
		WithArgs(pgxmock.AnyArg(), "map-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"hash"}).AddRow("hash-a"))
	mock.ExpectExec(`DELETE FROM tracks`).
		WithArgs(pgxmock.AnyArg(), "map-1", "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`SELECT DISTINCT hash FROM tracks`).
		WithArgs("user-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"hash"}))
	mock.ExpectCommit()

	body := []byte(`{"track_ids":["track-1"]}`)
	req := httptest.NewRequest(http.MethodDelete, "/maps/map-1/tracks/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %v", err)
	}

	var result struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", result.Deleted)
	}

	stored, err := blobs.Load("user-1", "hash-a")
	if err != nil {
		t.Fatalf("load blob: %v", err)
	}
	if stored != nil {
		t.Fatalf("expected blob removed")
	}
}
