package order

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/wichananm65/shop-order-platform/internal/auth"
	"github.com/wichananm65/shop-order-platform/internal/product"
)

// Handler exposes the order service over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// RegisterProtectedRoutes mounts the order endpoints. They expect an
// identity on the context, so register them after the auth middleware.
func (h *Handler) RegisterProtectedRoutes(app fiber.Router) {
	app.Post("/orders", h.createOrder)
	app.Get("/orders", h.listOrders)
	app.Get("/orders/:id", h.getOrder)
	app.Patch("/orders/:id/status", h.updateStatus)
	app.Delete("/orders/:id", h.cancelOrder)
}

func (h *Handler) createOrder(c *fiber.Ctx) error {
	ident, err := auth.IdentityFromCtx(c)
	if err != nil {
		return auth.Reject(c, auth.ErrMissingCredential)
	}

	in := new(CreateInput)
	if err := c.BodyParser(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	created, err := h.service.Create(c.UserContext(), ident.UserID, *in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Order created successfully",
		"order":   created,
	})
}

func (h *Handler) listOrders(c *fiber.Ctx) error {
	ident, err := auth.IdentityFromCtx(c)
	if err != nil {
		return auth.Reject(c, auth.ErrMissingCredential)
	}

	f := ListFilter{
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", DefaultPageSize),
		Status: Status(c.Query("status")),
	}
	page, err := h.service.List(c.UserContext(), ident.UserID, f)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"orders": page.Orders,
		"pagination": fiber.Map{
			"page":       page.Page,
			"limit":      page.Limit,
			"total":      page.Total,
			"totalPages": page.TotalPages(),
		},
	})
}

func (h *Handler) getOrder(c *fiber.Ctx) error {
	ident, err := auth.IdentityFromCtx(c)
	if err != nil {
		return auth.Reject(c, auth.ErrMissingCredential)
	}
	id, err := orderID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	o, err := h.service.Get(c.UserContext(), ident.UserID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"order": o})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(c *fiber.Ctx) error {
	ident, err := auth.IdentityFromCtx(c)
	if err != nil {
		return auth.Reject(c, auth.ErrMissingCredential)
	}
	id, err := orderID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	payload := new(updateStatusRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	o, err := h.service.UpdateStatus(c.UserContext(), ident.UserID, id, payload.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Order status updated", "order": o})
}

func (h *Handler) cancelOrder(c *fiber.Ctx) error {
	ident, err := auth.IdentityFromCtx(c)
	if err != nil {
		return auth.Reject(c, auth.ErrMissingCredential)
	}
	id, err := orderID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	o, err := h.service.Cancel(c.UserContext(), ident.UserID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Order cancelled successfully", "order": o})
}

func orderID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// writeError maps service errors to responses. Persistence detail has
// already been logged by the service and is not returned.
func writeError(c *fiber.Ctx, err error) error {
	var nf *product.NotFoundError
	var te *TransitionError

	switch {
	case errors.Is(err, ErrEmptyOrder),
		errors.Is(err, ErrInvalidItem),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidAddress):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &nf):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":     "Product " + nf.ProductID + " not found",
			"productId": nf.ProductID,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCannotCancel):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
	case errors.As(err, &te):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": te.Error(),
			"from":  te.From,
			"to":    te.To,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}
