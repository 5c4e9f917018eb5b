// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// RenderForContact fills a message body's placeholders from one contact.
func RenderForContact(template string, c *model.Contact) string {
	return RenderTemplate(template, map[string]string{
		"first_name": orUnknown(c.FirstName),
		"last_name":  orUnknown(c.LastName),
		"phone":      orUnknown(c.Phone),
	})
}

func orUnknown(v string) string {
	if v == "" {
		return "<unknown>"
	}
	return v
}
