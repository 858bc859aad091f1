package maps

import (
	"encoding/json"
	"errors"
	"log"

	"backend-trailmap/internal/cache"
	"backend-trailmap/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

func RegisterRoutes(r fiber.Router, svc *Service, blobs *storage.Service, geometries *cache.GeometryCache, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		m, err := svc.CreateMap(c.Context(), body.Name, userID(c))
		if errors.Is(err, ErrInvalidName) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		uid := userID(c)
		list, err := svc.ListMaps(c.Context(), uid)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if len(list) == 0 {
			m, err := svc.EnsureDefaultMap(c.Context(), uid)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			list = []Map{m}
		}
		return c.JSON(list)
	})

	r.Patch("/:id", authMiddleware, func(c *fiber.Ctx) error {
		var updates map[string]any
		if err := json.Unmarshal(c.Body(), &updates); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		m, err := svc.UpdateMap(c.Context(), c.Params("id"), userID(c), updates)
		if errors.Is(err, ErrInvalidName) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return fiber.NewError(fiber.StatusNotFound, "map not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(m)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		uid := userID(c)
		result, err := svc.DeleteMap(c.Context(), c.Params("id"), uid)
		if errors.Is(err, ErrLastMap) {
			return fiber.NewError(fiber.StatusBadRequest, "Cannot delete the last map")
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return fiber.NewError(fiber.StatusNotFound, "map not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		// row deletion is authoritative; blob cleanup after commit is
		// best-effort and an orphaned blob is acceptable
		for _, hash := range result.HashesFreed {
			if _, err := blobs.Delete(uid, hash); err != nil {
				log.Printf("blob delete failed for user %s hash %s: %v", uid, hash, err)
			}
		}
		geometries.Invalidate(c.Context(), uid, c.Params("id"), result.TrackIDs...)

		return c.JSON(fiber.Map{"deleted": true})
	})
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
