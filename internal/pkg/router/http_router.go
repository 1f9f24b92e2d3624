package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/app/controllers"
	"github.com/quillforge/quillforge/internal/pkg/constants"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.PingRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get(constants.PlansRoute, controllers.HandleGetPlans)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
