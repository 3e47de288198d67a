package http

import (
	"context"
	"strconv"

	redisjournal "arc-database/internal/database/adapter/persistence/redis"
	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/usecase"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Page sizes of a journal read.
const (
	DefaultJournalPage = 100
	MaxJournalPage     = 1000
)

// JournalReader reads back the change stream of one database.
type JournalReader interface {
	ReadSince(ctx context.Context, database, lastID string, count int64) ([]redisjournal.Entry, error)
	Length(ctx context.Context, database string) (int64, error)
}

// JournalHandler pages through the change journal so clients can catch up on
// writes they missed while disconnected.
type JournalHandler struct {
	journal JournalReader
	log     logger.Logger
}

func NewJournalHandler(journal JournalReader, log logger.Logger) *JournalHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &JournalHandler{journal: journal, log: log.WithComponent("journal_handler")}
}

// RegisterRoutes registers the journal endpoint under router.
func (h *JournalHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/journal/:database", h.ReadJournal)
}

// ReadJournal returns entries after the "after" entry id, oldest first.
// "next" is the id to pass as "after" for the following page.
func (h *JournalHandler) ReadJournal(c *fiber.Ctx) error {
	db, err := model.ParseDatabasePath(c.Params("database"))
	if err != nil {
		return h.fail(c, err)
	}

	count := DefaultJournalPage
	if raw := c.Query("count"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil || count <= 0 {
			return h.fail(c, errors.NewInvalidArgumentError("count must be a positive integer"))
		}
		if count > MaxJournalPage {
			count = MaxJournalPage
		}
	}
	after := c.Query("after")

	ctx := c.UserContext()
	entries, err := h.journal.ReadSince(ctx, db.Name, after, int64(count))
	if err != nil {
		h.log.Warn("Journal read failed", zap.String("database", db.Name), zap.Error(err))
		return h.fail(c, errors.NewBackendUnavailableError("change journal unavailable"))
	}
	length, err := h.journal.Length(ctx, db.Name)
	if err != nil {
		h.log.Warn("Journal length failed", zap.String("database", db.Name), zap.Error(err))
		return h.fail(c, errors.NewBackendUnavailableError("change journal unavailable"))
	}

	next := after
	if entries == nil {
		entries = []redisjournal.Entry{}
	}
	if len(entries) > 0 {
		next = entries[len(entries)-1].ID
	}
	return c.JSON(fiber.Map{
		"database": db.Name,
		"length":   length,
		"entries":  entries,
		"next":     next,
	})
}

func (h *JournalHandler) fail(c *fiber.Ctx, err error) error {
	resp := usecase.Response{Error: usecase.Describe(err)}
	return c.Status(statusFor(resp)).JSON(resp)
}
