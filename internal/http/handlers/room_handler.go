package handlers

import (
	"errors"
	"strconv"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/http/dto"
	"github.com/escrow-rooms/backend/internal/middleware"
	"github.com/escrow-rooms/backend/internal/repositories"
	"github.com/escrow-rooms/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RoomHandler struct {
	roomService *services.RoomService
	log         *zap.Logger
}

func NewRoomHandler(roomService *services.RoomService, log *zap.Logger) *RoomHandler {
	return &RoomHandler{roomService: roomService, log: log}
}

// respondError translates the service error taxonomy into the HTTP status
// and structured body. Unclassified errors get logged and return a bare 500.
func (h *RoomHandler) respondError(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error("room handler", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	code, _ := apperr.CodeOf(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) {
		msg = e.Msg
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, Code: string(code), RequestID: reqID})
}

func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	var req dto.CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	actorID := middleware.GetUserID(c)
	room, err := h.roomService.CreateRoom(c.Context(), actorID, req.Name, req.ChainID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) JoinRoom(c *fiber.Ctx) error {
	var req dto.JoinRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "code is required"})
	}

	actorID := middleware.GetUserID(c)
	room, err := h.roomService.JoinByCode(c.Context(), actorID, req.Code)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) ListRooms(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.RoomFilter{
		UserID: &userID,
		Limit:  20,
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("step"); v != "" {
		filter.Step = &v
	}

	rooms, err := h.roomService.ListRooms(c.Context(), filter)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rooms})
}

func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	room, err := h.roomService.GetRoom(c.Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) GetParticipants(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	parts, err := h.roomService.GetParticipants(c.Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: parts})
}

func (h *RoomHandler) SelectRole(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	var req dto.SelectRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	room, err := h.roomService.SelectRole(c.Context(), middleware.GetUserID(c), id, req.Role)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) ProposeAmount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	var req dto.ProposeAmountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	room, err := h.roomService.ProposeAmount(c.Context(), middleware.GetUserID(c), id, req.Amount)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) ConfirmAmount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	var req dto.ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	room, err := h.roomService.ConfirmAmount(c.Context(), middleware.GetUserID(c), id, req.Confirmed)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) SelectFeePayer(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	var req dto.SelectFeePayerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	room, err := h.roomService.SelectFeePayer(c.Context(), middleware.GetUserID(c), id, req.FeePayer)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) ConfirmFee(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	var req dto.ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	room, err := h.roomService.ConfirmFee(c.Context(), middleware.GetUserID(c), id, req.Confirmed)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) ConfirmRelease(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	room, err := h.roomService.ConfirmRelease(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) ConfirmCancel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	room, err := h.roomService.ConfirmCancel(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) CreateDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	var req dto.CreateDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	room, err := h.roomService.CreateDispute(c.Context(), middleware.GetUserID(c), id, req.Explanation, req.ProofURL)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: room})
}

func (h *RoomHandler) GetDisputes(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	disputes, err := h.roomService.GetDisputes(c.Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: disputes})
}

func (h *RoomHandler) GetRoomEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	logs, err := h.roomService.GetRoomEvents(c.Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *RoomHandler) GetPaymentInfo(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid room id"})
	}
	info, err := h.roomService.GetPaymentInfo(c.Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: info})
}
