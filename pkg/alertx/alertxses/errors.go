package alertxses

import "github.com/Abraxas-365/batchx/pkg/errx"

var sesErrors = errx.NewRegistry("ALERTX_SES")

var (
	ErrSendFailed   = sesErrors.Register("SEND_FAILED", errx.TypeExternal, 500, "SES alert email failed")
	ErrNoRecipients = sesErrors.Register("NO_RECIPIENTS", errx.TypeValidation, 400, "No alert recipients configured")
)
