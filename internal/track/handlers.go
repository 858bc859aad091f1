package track

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"strings"

	"backend-trailmap/internal/cache"
	"backend-trailmap/internal/config"
	"backend-trailmap/internal/maps"
	"backend-trailmap/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type batchUploadResponse struct {
	Uploaded int      `json:"uploaded"`
	Failed   int      `json:"failed"`
	TrackIDs []string `json:"track_ids"`
	Errors   []string `json:"errors"`
}

func RegisterRoutes(r fiber.Router, svc *Service, mapsSvc *maps.Service, blobs *storage.Service, geometries *cache.GeometryCache, cfg config.Config, authMiddleware fiber.Handler) {
	requireMap := func(c *fiber.Ctx) (string, string, error) {
		uid, _ := c.Locals("user_id").(string)
		mapID := c.Params("mapId")
		if _, err := mapsSvc.GetMap(c.Context(), mapID, uid); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return "", "", fiber.NewError(fiber.StatusNotFound, "map not found")
			}
			return "", "", fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return mapID, uid, nil
	}

	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		mapID, uid, err := requireMap(c)
		if err != nil {
			return err
		}

		form, err := c.MultipartForm()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "multipart form required")
		}
		files := form.File["files"]

		resp := batchUploadResponse{TrackIDs: []string{}, Errors: []string{}}
		for _, file := range files {
			name := file.Filename
			if name == "" {
				name = "unknown"
			}

			if !strings.HasSuffix(strings.ToLower(name), ".gpx") {
				resp.Failed++
				resp.Errors = append(resp.Errors, name+": Not a GPX file")
				continue
			}
			if file.Size > cfg.MaxUploadBytes {
				resp.Failed++
				resp.Errors = append(resp.Errors, name+": File too large")
				continue
			}

			content, err := readUpload(file)
			if err != nil {
				resp.Failed++
				resp.Errors = append(resp.Errors, name+": Unable to process file")
				continue
			}

			result, err := svc.UploadTrack(c.Context(), name, content, mapID, uid)
			if err != nil {
				resp.Failed++
				if errors.Is(err, ErrInvalidGPX) {
					log.Printf("validation error uploading %s: %v", name, err)
					resp.Errors = append(resp.Errors, name+": Invalid GPX file")
				} else {
					log.Printf("error uploading %s for user %s: %v", name, uid, err)
					resp.Errors = append(resp.Errors, name+": Unable to process file")
				}
				continue
			}

			// a duplicate still yields a usable track id, it just does
			// not count as a fresh upload
			if !result.Duplicate {
				resp.Uploaded++
			}
			resp.TrackIDs = append(resp.TrackIDs, result.Track.ID)
		}

		status := fiber.StatusOK
		if resp.Uploaded > 0 {
			status = fiber.StatusCreated
		} else if resp.Failed > 0 {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(resp)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		mapID, uid, err := requireMap(c)
		if err != nil {
			return err
		}

		tracks, err := svc.ListTracks(c.Context(), mapID, uid)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if tracks == nil {
			tracks = []Track{}
		}
		return c.JSON(tracks)
	})

	r.Post("/geometry", authMiddleware, func(c *fiber.Ctx) error {
		mapID, uid, err := requireMap(c)
		if err != nil {
			return err
		}

		var body struct {
			TrackIDs []string `json:"track_ids"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		resolved := map[string]json.RawMessage{}
		var misses []string
		for _, id := range body.TrackIDs {
			if payload, ok := geometries.Get(c.Context(), uid, mapID, id); ok {
				resolved[id] = payload
			} else {
				misses = append(misses, id)
			}
		}

		fetched, err := svc.GetTrackGeometries(c.Context(), misses, mapID, uid)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		for _, g := range fetched {
			payload, err := json.Marshal(g)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			resolved[g.TrackID] = payload
			geometries.Set(c.Context(), uid, mapID, g.TrackID, payload)
		}

		// request order, unresolved ids silently dropped
		out := make([]json.RawMessage, 0, len(resolved))
		for _, id := range body.TrackIDs {
			if payload, ok := resolved[id]; ok {
				out = append(out, payload)
			}
		}
		return c.JSON(out)
	})

	r.Get("/:trackId/geometry", authMiddleware, func(c *fiber.Ctx) error {
		mapID, uid, err := requireMap(c)
		if err != nil {
			return err
		}

		trackID := c.Params("trackId")
		if payload, ok := geometries.Get(c.Context(), uid, mapID, trackID); ok {
			c.Set("Content-Type", "application/json")
			return c.Send(payload)
		}

		g, err := svc.GetTrackGeometry(c.Context(), trackID, mapID, uid)
		if errors.Is(err, pgx.ErrNoRows) {
			return fiber.NewError(fiber.StatusNotFound, "track not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		if payload, err := json.Marshal(g); err == nil {
			geometries.Set(c.Context(), uid, mapID, trackID, payload)
		}
		return c.JSON(g)
	})

	r.Patch("/bulk", authMiddleware, func(c *fiber.Ctx) error {
		mapID, uid, err := requireMap(c)
		if err != nil {
			return err
		}

		var body struct {
			TrackIDs []string       `json:"track_ids"`
			Updates  map[string]any `json:"updates"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		updated, err := svc.BulkUpdateTracks(c.Context(), body.TrackIDs, body.Updates, mapID, uid)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"updated": updated})
	})

	r.Patch("/:trackId", authMiddleware, func(c *fiber.Ctx) error {
		mapID, uid, err := requireMap(c)
		if err != nil {
			return err
		}

		var updates map[string]any
		if err := json.Unmarshal(c.Body(), &updates); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		t, err := svc.UpdateTrack(c.Context(), c.Params("trackId"), updates, mapID, uid)
		if errors.Is(err, pgx.ErrNoRows) {
			return fiber.NewError(fiber.StatusNotFound, "track not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(t)
	})

	r.Delete("/", authMiddleware, func(c *fiber.Ctx) error {
		mapID, uid, err := requireMap(c)
		if err != nil {
			return err
		}

		var body struct {
			TrackIDs []string `json:"track_ids"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		result, err := svc.DeleteTracks(c.Context(), body.TrackIDs, mapID, uid)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		// rows are authoritative; blob cleanup happens after commit and a
		// failed file delete only leaves an orphaned blob behind
		for _, hash := range result.HashesFreed {
			if _, err := blobs.Delete(uid, hash); err != nil {
				log.Printf("blob delete failed for user %s hash %s: %v", uid, hash, err)
			}
		}
		geometries.Invalidate(c.Context(), uid, mapID, body.TrackIDs...)

		return c.JSON(fiber.Map{"deleted": result.Deleted})
	})
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
