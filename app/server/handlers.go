package server

import (
	"errors"
	"time"

	"vizlive/app/client/generator"
	"vizlive/app/service/gateway"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

type visualizationRequest struct {
	Topic string `json:"topic"`
}

type tokenResponse struct {
	ClientSecret      any    `json:"client_secret"`
	VisualizationData any    `json:"visualization_data"`
	Topic             string `json:"topic"`
	Doubt             string `json:"doubt,omitempty"`
	SessionID         string `json:"sessionId"`
}

func (s *Service) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"uptime_s": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Service) handleVisualization(c *fiber.Ctx) error {
	var req visualizationRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, oops.Errorf("invalid request body: %w", err))
	}

	if req.Topic == "" {
		return errorResponse(c, fiber.StatusBadRequest, oops.Errorf("topic is required"))
	}

	graph, err := s.gatewaySvc.Resolve(c.Context(), req.Topic, nil)
	if err != nil {
		if errors.Is(err, gateway.ErrGenerationFailed) {
			return errorResponse(c, fiber.StatusNotFound, err)
		}

		return errorResponse(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(graph)
}

func (s *Service) handleToken(c *fiber.Ctx) error {
	topic := c.Query("topic")
	doubt := c.Query("doubt")

	if topic == "" {
		return errorResponse(c, fiber.StatusBadRequest, oops.Errorf("topic is required"))
	}

	var doubtPayload *generator.DoubtPayload
	if doubt != "" {
		doubtPayload = &generator.DoubtPayload{
			Topic: topic,
			Doubt: doubt,
		}
	}

	graph, err := s.gatewaySvc.Resolve(c.Context(), topic, doubtPayload)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}

	secret, err := s.tokens.CreateSession(c.Context())
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(tokenResponse{
		ClientSecret:      secret,
		VisualizationData: graph,
		Topic:             topic,
		Doubt:             doubt,
		SessionID:         uuid.NewString(),
	})
}

func errorResponse(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
