// internal/dispatch/send.go
package dispatch

import (
	"context"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

// sendJob performs one delivery attempt through the transport. A failed media
// send with a non-empty caption falls back once to sending the caption as
// plain text; the returned note records that partial success for the
// delivery record.
func sendJob(ctx context.Context, tr transport.Transport, job model.DispatchJob) (providerID, note string, err error) {
	if job.MediaURL == "" {
		providerID, err = tr.SendText(ctx, job.Phone, job.Body)
		return providerID, "", err
	}

	providerID, mediaErr := tr.SendMedia(ctx, job.Phone, job.Body, job.MediaURL, job.MediaType)
	if mediaErr == nil {
		return providerID, "", nil
	}
	if job.Body == "" {
		return "", "", mediaErr
	}

	providerID, textErr := tr.SendText(ctx, job.Phone, job.Body)
	if textErr != nil {
		// Report the original media failure; the text fallback failing
		// too adds nothing actionable.
		return "", "", mediaErr
	}
	return providerID, "media send failed, caption delivered as text: " + mediaErr.Error(), nil
}
