package notify

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"qms/token-service/internal/models"
)

const DefaultTemplate = "Token {token_id}: you are {position} in line. Estimated wait {wait} min."

func Render(template string, req models.NotifyRequest) string {
	if template == "" {
		template = DefaultTemplate
	}
	replacer := strings.NewReplacer(
		"{token_id}", req.TokenID,
		"{position}", humanize.Ordinal(req.Position),
		"{wait}", strconv.Itoa(req.WaitEstimateMinutes),
	)
	return replacer.Replace(template)
}
