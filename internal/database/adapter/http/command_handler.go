package http

import (
	"encoding/json"

	"arc-database/internal/database/usecase"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/logger"
	"arc-database/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestIDHeader carries a caller-chosen request id; one is generated when absent.
const RequestIDHeader = "X-Request-ID"

// CommandHandler exposes the non-streaming commands over plain HTTP. There is
// no push channel, so subscribe commands are rejected.
type CommandHandler struct {
	facade *usecase.CommandFacade
	log    logger.Logger
}

func NewCommandHandler(facade *usecase.CommandFacade, log logger.Logger) *CommandHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &CommandHandler{facade: facade, log: log.WithComponent("command_handler")}
}

// RegisterRoutes registers the command endpoints under router.
func (h *CommandHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/commands", h.ListCommands)
	router.Post("/commands/:command", h.ExecuteCommand)
}

// ListCommands returns the supported command names.
func (h *CommandHandler) ListCommands(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"commands": h.facade.Commands()})
}

// ExecuteCommand runs the command named in the path with the JSON body as its
// arguments and replies with the envelope.
func (h *CommandHandler) ExecuteCommand(c *fiber.Ctx) error {
	command := c.Params("command")

	requestID := c.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(RequestIDHeader, requestID)

	var req usecase.Request
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			desc := usecase.Describe(errors.NewInvalidArgumentError("malformed request body: " + err.Error()))
			return c.Status(fiber.StatusBadRequest).JSON(usecase.Response{Error: desc})
		}
	}

	ctx := utils.WithRequestID(c.UserContext(), requestID)
	resp := h.facade.Handle(ctx, command, req, nil)
	return c.Status(statusFor(resp)).JSON(resp)
}

// statusFor maps an envelope to the HTTP status of its reply.
func statusFor(resp usecase.Response) int {
	if resp.Error == nil {
		return fiber.StatusOK
	}
	switch errors.ErrorType(resp.Error.Code) {
	case errors.ErrorTypeMalformedReference, errors.ErrorTypeInvalidQuery,
		errors.ErrorTypeInvalidArgument, errors.ErrorTypeUnsupportedTransport:
		return fiber.StatusBadRequest
	case errors.ErrorTypeNotFound, errors.ErrorTypeUnknownCommand:
		return fiber.StatusNotFound
	case errors.ErrorTypeDuplicateID:
		return fiber.StatusConflict
	case errors.ErrorTypeBackendUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
