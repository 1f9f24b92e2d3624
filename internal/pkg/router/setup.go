package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router is one installable route group.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all route groups. HttpRouter goes first so the
// public endpoints exist before the API group claims its prefix.
func InstallRouter(app *fiber.App) {
	setup(app, NewHttpRouter(), NewApiRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
