package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/repository"
	"github.com/noah-isme/afterschool-ops-api/internal/service"
	"github.com/noah-isme/afterschool-ops-api/pkg/cache"
	"github.com/noah-isme/afterschool-ops-api/pkg/config"
	"github.com/noah-isme/afterschool-ops-api/pkg/database"
)

// Container holds the wired services shared by the API server and the CLI.
type Container struct {
	DB    *sqlx.DB
	Redis *redis.Client

	Metrics      *service.MetricsService
	Cache        *service.CacheService
	Materializer *service.MaterializerService
	Attendance   *service.AttendanceService
	Absences     *service.AbsenceService
	Calendar     *service.CalendarService
	Enrollments  *service.EnrollmentService
	Scheduler    *service.MaterializationScheduler
}

// New connects to Postgres (and Redis when the calendar cache is on) and wires
// repositories into services. A Redis outage only disables caching.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	loc, err := cfg.Materializer.Location()
	if err != nil {
		logger.Warn("unknown materializer time zone, using UTC", zap.String("tz", cfg.Materializer.TimeZone), zap.Error(err))
	}

	c := &Container{DB: db, Metrics: service.NewMetricsService()}

	var cacheRepo service.CacheRepository
	if cfg.Calendar.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, calendar cache disabled", zap.Error(err))
		} else {
			c.Redis = client
			cacheRepo = repository.NewCacheRepository(client, logger)
		}
	}
	c.Cache = service.NewCacheService(cacheRepo, c.Metrics, cfg.Calendar.CacheTTL, logger, cacheRepo != nil)

	programs := repository.NewProgramRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	sessions := repository.NewSessionRepository(db)
	validate := validator.New()

	c.Materializer = service.NewMaterializerService(programs, enrollments, sessions, c.Cache, c.Metrics, logger, service.MaterializerConfig{
		Concurrency:            cfg.Materializer.Concurrency,
		BackfillFromEnrollment: cfg.Materializer.BackfillFromEnrollment,
		Location:               loc,
	})
	c.Attendance = service.NewAttendanceService(sessions, c.Cache, c.Metrics, validate, logger)
	c.Absences = service.NewAbsenceService(programs, sessions, c.Cache, c.Metrics, validate, logger)
	c.Calendar = service.NewCalendarService(programs, sessions, c.Cache, cfg.Calendar.CacheTTL, validate, logger)
	c.Enrollments = service.NewEnrollmentService(enrollments, validate, logger)
	c.Scheduler = service.NewMaterializationScheduler(c.Materializer, logger, service.SchedulerConfig{
		Interval:   cfg.Materializer.Interval,
		MaxRetries: cfg.Materializer.WorkerRetries,
		RetryDelay: cfg.Materializer.RetryDelay,
		Location:   loc,
	})
	return c, nil
}

// Close releases the database and cache connections.
func (c *Container) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
