package alertx

import "github.com/Abraxas-365/batchx/pkg/errx"

var alertxErrors = errx.NewRegistry("ALERTX")

var (
	ErrDeliveryFailed   = alertxErrors.Register("DELIVERY_FAILED", errx.TypeExternal, 500, "Failed to deliver alert")
	ErrInvalidAlert     = alertxErrors.Register("INVALID_ALERT", errx.TypeValidation, 400, "Invalid alert")
	ErrNoProvider       = alertxErrors.Register("NO_PROVIDER", errx.TypeInternal, 500, "No alert provider configured")
	ErrTemplateNotFound = alertxErrors.Register("TEMPLATE_NOT_FOUND", errx.TypeNotFound, 404, "Alert template not found")
	ErrTemplateParse    = alertxErrors.Register("TEMPLATE_PARSE", errx.TypeValidation, 400, "Failed to parse alert template")
	ErrTemplateRender   = alertxErrors.Register("TEMPLATE_RENDER", errx.TypeInternal, 500, "Failed to render alert template")
)
