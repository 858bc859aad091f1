package server

import (
	"backend-trailmap/internal/auth"
	"backend-trailmap/internal/cache"
	"backend-trailmap/internal/config"
	"backend-trailmap/internal/locks"
	"backend-trailmap/internal/maps"
	"backend-trailmap/internal/storage"
	"backend-trailmap/internal/track"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App   *fiber.App
	Cfg   config.Config
	DB    *pgxpool.Pool
	Redis *redis.Client
	Blobs *storage.Service
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MaxUploadBytes) * 2,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	blobs, err := storage.NewService(cfg.GPXDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		App:   app,
		Cfg:   cfg,
		DB:    db,
		Redis: redisClient,
		Blobs: blobs,
	}

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	registry := locks.NewRegistry()
	geometries := cache.NewGeometryCache(s.Redis)

	mapsSvc := maps.NewService(s.DB, registry)
	trackSvc := track.NewService(s.DB, s.Blobs, registry)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))
	maps.RegisterRoutes(s.App.Group("/maps"), mapsSvc, s.Blobs, geometries, jwtMiddleware)
	track.RegisterRoutes(s.App.Group("/maps/:mapId/tracks"), trackSvc, mapsSvc, s.Blobs, geometries, s.Cfg, jwtMiddleware)
}
