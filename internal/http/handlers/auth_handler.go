package handlers

import (
	"github.com/escrow-rooms/backend/internal/auth"
	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/http/dto"
	"github.com/escrow-rooms/backend/internal/repositories"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	userRepo *repositories.UserRepo
	cfg      *config.Config
	log      *zap.Logger
}

func NewAuthHandler(userRepo *repositories.UserRepo, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, cfg: cfg, log: log}
}

// WalletAuth signs a user in by wallet address. The address is normalized
// to its checksummed form so one wallet never maps to two user rows.
func (h *AuthHandler) WalletAuth(c *fiber.Ctx) error {
	var req dto.AuthWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	if !common.IsHexAddress(req.WalletAddress) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "wallet_address is not a valid address"})
	}
	address := common.HexToAddress(req.WalletAddress).Hex()

	user, err := h.userRepo.UpsertByAddress(c.Context(), address, req.DisplayName)
	if err != nil {
		h.log.Error("wallet auth upsert failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.WalletAddress, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("jwt generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token, User: user})
}
